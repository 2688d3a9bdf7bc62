package ledger

// AccessController decides which callers may run owner-restricted
// operations. The administrator is fixed when the controller is built.
type AccessController struct {
	admin string
}

// NewAccessController creates a controller for the given administrator.
// An empty admin id means no caller is ever authorized.
func NewAccessController(admin string) *AccessController {
	return &AccessController{admin: admin}
}

// IsAdmin reports whether caller is the administrator
func (a *AccessController) IsAdmin(caller string) bool {
	return a.admin != "" && caller == a.admin
}

// Authorize rejects callers other than the administrator with NotOwner
func (a *AccessController) Authorize(op, caller string) error {
	if !a.IsAdmin(caller) {
		return reject(op, CodeNotOwner, "caller %q", caller)
	}
	return nil
}
