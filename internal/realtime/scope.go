package realtime

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cabdesk/dispatch-notify/internal/domain/session"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Endpoints are the REST paths for one role scope, relative to the API base.
type Endpoints struct {
	Unread   string
	Page     string
	ReadAll  string
	markRead string
}

// MarkRead returns the path that confirms a single read.
func (e Endpoints) MarkRead(id string) string {
	return fmt.Sprintf(e.markRead, url.PathEscape(id))
}

var (
	adminEndpoints = Endpoints{
		Unread:   "/notifications/self/unread",
		Page:     "/notifications/self",
		ReadAll:  "/notifications/self/read-all",
		markRead: "/notifications/%s/read",
	}
	vendorEndpoints = Endpoints{
		Unread:   "/notifications/vendor/unread",
		Page:     "/notifications/vendor",
		ReadAll:  "/notifications/vendor/read-all",
		markRead: "/notifications/%s/read",
	}
)

// EndpointsFor returns the endpoint set of a role.
func EndpointsFor(role session.Role) (Endpoints, error) {
	switch role {
	case session.RoleAdmin:
		return adminEndpoints, nil
	case session.RoleVendor:
		return vendorEndpoints, nil
	default:
		return Endpoints{}, session.ErrUnknownRole
	}
}

// Selection is the role scope chosen once for a session.
type Selection struct {
	Scope     session.Scope
	Endpoints Endpoints
}

// SelectScope picks the session's role scope. An explicit role flag wins;
// otherwise the role claim of the credential is used. The claim is read
// without verifying the signature: the gateway verifies it on every call.
func SelectScope(roleFlag, credential string) (Selection, error) {
	scope := session.Scope{Credential: strings.TrimSpace(credential)}

	var claims map[string]interface{}
	if scope.Credential != "" {
		if tok, err := jwt.ParseInsecure([]byte(scope.Credential)); err == nil {
			claims, _ = tok.AsMap(context.Background())
		}
	}

	if roleFlag == "" {
		if r, ok := claims["role"].(string); ok {
			roleFlag = r
		}
	}

	role, err := session.ParseRole(roleFlag)
	if err != nil {
		return Selection{}, err
	}
	scope.Role = role

	if id, ok := claims["user_id"].(string); ok {
		scope.UserID = id
	}
	if id, ok := claims["vendor_id"].(string); ok {
		scope.VendorID = id
	}

	endpoints, err := EndpointsFor(role)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Scope: scope, Endpoints: endpoints}, nil
}
