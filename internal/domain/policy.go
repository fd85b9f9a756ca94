// Package domain holds the core types shared across the gateway:
// course access policies, authenticated identities, and the stream
// event vocabulary.
package domain

// Policy is the access-control record for a single course. It is
// loaded fresh from the store on every request and never mutated by
// the gate.
type Policy struct {
	OwnerEmail           string   `json:"owner_email"`
	AdminEmails          []string `json:"admin_emails"`
	ApprovedEmails       []string `json:"approved_emails"`
	IsPrivate            bool     `json:"is_private"`
	AllowAnyLoggedInUser bool     `json:"allow_any_logged_in_user"`
}

// IsAdmin reports whether email is listed as a course admin.
func (p *Policy) IsAdmin(email string) bool {
	return containsEmail(p.AdminEmails, email)
}

// IsApproved reports whether email is on the approved-user list.
func (p *Policy) IsApproved(email string) bool {
	return containsEmail(p.ApprovedEmails, email)
}

func containsEmail(list []string, email string) bool {
	if email == "" {
		return false
	}
	for _, e := range list {
		if e == email {
			return true
		}
	}
	return false
}

// Identity is the result of the upstream authentication step. A nil
// *Identity (or empty Email) means the caller is anonymous.
type Identity struct {
	Email string
}

// Present reports whether the identity carries an authenticated email.
func (i *Identity) Present() bool {
	return i != nil && i.Email != ""
}

// AccessLevel is the graded privilege required for an operation.
// Owner implies Admin implies Any.
type AccessLevel string

const (
	LevelAny   AccessLevel = "any"
	LevelAdmin AccessLevel = "admin"
	LevelOwner AccessLevel = "owner"
)

// MethodLevels maps an HTTP method to the access level it requires.
// Methods not present in the map default to LevelAny.
type MethodLevels map[string]AccessLevel

// AccessDecision is the derived outcome of evaluating an identity
// against a policy. It is never persisted.
type AccessDecision struct {
	Granted    bool
	Reason     string
	HTTPStatus int
}

// accessPredicates are the table the gate evaluates, one predicate
// per level. Keeping the hierarchy in one table keeps it auditable
// and lets per-method overrides reuse it.
var accessPredicates = map[AccessLevel]func(identity *Identity, p *Policy) bool{
	LevelOwner: func(id *Identity, p *Policy) bool {
		return id.Present() && id.Email == p.OwnerEmail
	},
	LevelAdmin: func(id *Identity, p *Policy) bool {
		return id.Present() && (id.Email == p.OwnerEmail || p.IsAdmin(id.Email))
	},
	LevelAny: func(id *Identity, p *Policy) bool {
		return HasAnyAccess(id, p)
	},
}

// HasAnyAccess reports whether the identity has any access to the
// course: owner, admin, approved, or any logged-in user when the
// policy allows it.
func HasAnyAccess(id *Identity, p *Policy) bool {
	if !id.Present() {
		return false
	}
	if id.Email == p.OwnerEmail || p.IsAdmin(id.Email) || p.IsApproved(id.Email) {
		return true
	}
	return p.AllowAnyLoggedInUser
}

// Evaluate computes the access decision for the given level. It does
// not consider public visibility; that is the gate's concern.
func Evaluate(id *Identity, p *Policy, level AccessLevel) bool {
	pred, ok := accessPredicates[level]
	if !ok {
		pred = accessPredicates[LevelAny]
	}
	return pred(id, p)
}
