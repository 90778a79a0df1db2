package signaldesk

import (
	"log/slog"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/signaldesk/internal/config"
	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/admin/review"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/auth/logout"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/auth/register"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/auth/social"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/health"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/payment/paymentcreate"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/payment/paymentlist"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/payment/paymentwatch"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/subscription/checkout"
	"github.com/magabrotheeeer/signaldesk/internal/http/handlers/view"
	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
	"github.com/magabrotheeeer/signaldesk/internal/metrics"
	authservice "github.com/magabrotheeeer/signaldesk/internal/services/auth"
	paymentservice "github.com/magabrotheeeer/signaldesk/internal/services/payment"
)

// Services то, что нужно маршрутам.
type Services struct {
	Registry *coordinator.Registry
	Auth     *authservice.Service
	Payments *paymentservice.Service
	DB       health.Pinger
	Cache    health.Pinger
}

// authRPS и authBurst лимит попыток входа и регистрации на клиента.
const (
	authRPS   = 0.5
	authBurst = 5
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
		metrics.Middleware,
	)

	reg := s.Registry
	secure := strings.HasPrefix(cfg.PublicURL, "https://")
	authLimiter := middlewarectx.NewLimiter(authRPS, authBurst)

	viewHandler := view.New(logger, func(id string) (view.Client, error) { return reg.Get(id) })
	checkoutHandler := checkout.New(logger, func(id string) (checkout.Client, error) { return reg.Get(id) }, s.Payments)
	reviewHandler := review.New(logger, s.Payments)
	socialHandler := social.New(logger, s.Auth, cfg.PublicURL)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.ClientMiddleware(secure))

		r.Post("/boot", viewHandler.Boot)
		r.Get("/view", viewHandler.Get)
		r.Post("/navigate", viewHandler.Navigate)
		r.Post("/footer-navigate", viewHandler.FooterNavigate)
		r.Post("/history/pop", viewHandler.Pop)
		r.Post("/overlay", viewHandler.Overlay)
		r.Post("/tab", viewHandler.Tab)
		r.Post("/notice/dismiss", viewHandler.DismissNotice)

		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, authLimiter))
			r.Post("/login", login.New(logger, func(id string) (login.Client, error) { return reg.Get(id) }).ServeHTTP)
			r.Post("/register", register.New(logger, func(id string) (register.Client, error) { return reg.Get(id) }).ServeHTTP)
		})
		r.Post("/logout", logout.New(logger, func(id string) (logout.Client, error) { return reg.Get(id) }).ServeHTTP)

		r.Get("/plans", checkoutHandler.Plans)
		r.Post("/subscription/plan", checkoutHandler.SelectPlan)
		r.Post("/subscription/userinfo", checkoutHandler.UserInfo)
		r.Post("/subscription/back", checkoutHandler.Back)

		r.Get("/payments/watch", paymentwatch.New(logger,
			func(id string) (paymentwatch.Client, error) { return reg.Get(id) },
			[]string{strings.TrimRight(cfg.PublicURL, "/")}).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(s.Auth, logger))
			r.Post("/payments", paymentcreate.New(logger, s.Payments,
				func(id string) (paymentcreate.Client, error) { return reg.Get(id) }).ServeHTTP)
			r.Get("/payments", paymentlist.New(logger, s.Payments).ServeHTTP)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middlewarectx.AdminOnly(logger))
				r.Get("/payments", reviewHandler.Pending)
				r.Post("/payments/{id}/approve", reviewHandler.Approve)
				r.Post("/payments/{id}/reject", reviewHandler.Reject)
			})
		})

		r.Get("/auth/{provider}/start", socialHandler.Start)
		r.Get("/auth/{provider}/callback", socialHandler.Callback)
	})

	r.Get("/health", health.New(logger, map[string]health.Pinger{
		"postgres": s.DB,
		"redis":    s.Cache,
	}).ServeHTTP)
	r.Handle("/metrics", metrics.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
