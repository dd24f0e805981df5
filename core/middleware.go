package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"vuosikello/pkg/access"
	"vuosikello/pkg/auth"
)

const (
	principalKey = "vuosikello.principal"
	memberKey    = "vuosikello.member"

	TenantHeader = "X-Tenant-ID"
)

// abort logs err and ends the request with the status it maps to.
func abort(gctx *gin.Context, message string, err error) {
	ctx := gctx.Request.Context()
	status := StatusOf(err)

	event := log.Ctx(ctx).Error()
	if status < http.StatusInternalServerError {
		event = log.Ctx(ctx).Info()
	}

	event.Err(err).Int("status", status).Msg(message)
	gctx.AbortWithStatusJSON(status, NewError(message, err))
}

// Authenticate verifies the bearer token. Browsers cannot set headers on a
// WebSocket upgrade, so the token may also come as access_token.
func Authenticate(verifier *auth.Verifier) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		token, err := auth.FromHeader(gctx.GetHeader("Authorization"))
		if errors.Is(err, auth.ErrMissingToken) {
			token = gctx.Query("access_token")
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			abort(gctx, "authentication failed", err)
			return
		}

		gctx.Set(principalKey, principal)
		gctx.Next()
	}
}

// RequireTenant resolves the requested tenant to the caller's membership.
func RequireTenant(repository Repository) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		tenantID := strings.TrimSpace(gctx.GetHeader(TenantHeader))
		if tenantID == "" {
			tenantID = strings.TrimSpace(gctx.Query("tenant"))
		}

		if tenantID == "" {
			abort(gctx, "tenant is required", invalid(TenantHeader+" header is missing"))
			return
		}

		principal := PrincipalOf(gctx)

		member, err := repository.GetMember(gctx.Request.Context(), tenantID, principal.UserID)
		if err != nil {
			if errors.Is(err, ErrMemberNotFound) {
				err = fmt.Errorf("%w: not a member of tenant %s", ErrForbidden, tenantID)
			}

			abort(gctx, "tenant access denied", err)

			return
		}

		gctx.Set(memberKey, *member)
		gctx.Next()
	}
}

// Authorize rejects callers whose role lacks action.
func Authorize(action access.Action) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		member := MemberOf(gctx)

		if !access.Can(member.Role, action) {
			abort(gctx, "action not allowed", fmt.Errorf("%w: %s may not %s", ErrForbidden, member.Role, action))
			return
		}

		gctx.Next()
	}
}

func PrincipalOf(gctx *gin.Context) auth.Principal {
	p, _ := gctx.Get(principalKey)
	principal, _ := p.(auth.Principal)

	return principal
}

func MemberOf(gctx *gin.Context) Member {
	m, _ := gctx.Get(memberKey)
	member, _ := m.(Member)

	return member
}
