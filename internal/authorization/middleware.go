package authorization

import (
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/cloudcost/internal/audit/domain"
	obscontext "github.com/smallbiznis/cloudcost/internal/observability/context"
	"github.com/smallbiznis/cloudcost/internal/server"
	"go.uber.org/zap"
)

const ContextEmailKey = "auth_email"

type Guard struct {
	cfg      Config
	verifier Verifier
	policy   Authorizer
	audit    auditdomain.Service
	log      *zap.Logger
}

func NewGuard(cfg Config, verifier Verifier, policy Authorizer, audit auditdomain.Service, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{cfg: cfg, verifier: verifier, policy: policy, audit: audit, log: log.Named("authorization")}
}

// Middleware verifies the caller's ID token, then checks the route policy
// for the caller's email. With auth disabled every request passes.
func (g *Guard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.cfg.Enabled {
			c.Next()
			return
		}
		ctx := c.Request.Context()

		id, err := g.verifier.Verify(ctx, BearerToken(c.GetHeader("Authorization")))
		if err != nil || id.Email == "" {
			g.log.Warn("authorization.unauthenticated", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.Header("WWW-Authenticate", "Bearer")
			server.AbortWithError(c, server.ErrUnauthorized)
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		allowed, err := g.policy.Enforce(id.Email, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			server.AbortWithError(c, err)
			return
		}
		if !allowed {
			g.denied(c, id.Email, route)
			server.AbortWithError(c, server.ErrForbidden)
			return
		}

		c.Set(ContextEmailKey, id.Email)
		c.Request = c.Request.WithContext(obscontext.WithActor(ctx, "user", id.Email))
		c.Next()
	}
}

func (g *Guard) denied(c *gin.Context, email, route string) {
	g.log.Warn("authorization.denied", zap.String("email", email), zap.String("route", route))
	if g.audit == nil {
		return
	}
	_, _ = g.audit.AuditLog(c.Request.Context(), auditdomain.Entry{
		Action:     "authorization.denied",
		ActorType:  "user",
		ActorID:    email,
		TargetType: "route",
		TargetID:   c.Request.Method + " " + route,
		Outcome:    "denied",
	})
}

// Email returns the verified caller, or "anonymous" when auth is off.
func Email(c *gin.Context) string {
	if v := c.GetString(ContextEmailKey); v != "" {
		return v
	}
	return "anonymous"
}
