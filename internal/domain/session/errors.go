package session

import "errors"

var (
	ErrUnknownRole      = errors.New("unknown session role")
	ErrMissingVendorID  = errors.New("vendor scope requires a vendor id")
	ErrMissingToken     = errors.New("missing bearer credential")
	ErrVendorAccessOnly = errors.New("vendor access required")
	ErrAdminAccessOnly  = errors.New("admin access required")
)
