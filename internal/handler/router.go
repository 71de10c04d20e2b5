package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	advisorHandler "github.com/zhouzirui/global-compliance/backend/internal/handler/advisor"
	historyHandler "github.com/zhouzirui/global-compliance/backend/internal/handler/history"
	reportHandler "github.com/zhouzirui/global-compliance/backend/internal/handler/report"
	shareHandler "github.com/zhouzirui/global-compliance/backend/internal/handler/share"
	middlewarePkg "github.com/zhouzirui/global-compliance/backend/internal/middleware"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
	"github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
	"github.com/zhouzirui/global-compliance/backend/internal/service/history"
	"github.com/zhouzirui/global-compliance/backend/internal/service/report"
	"github.com/zhouzirui/global-compliance/backend/internal/share"
	"github.com/zhouzirui/global-compliance/backend/pkg/utils"
)

// Deps 汇总路由所需的服务。Dialer 为 nil 时实时顾问不可用。
type Deps struct {
	Reports        *report.Service
	History        *history.Service
	Share          *share.Codec
	Dialer         advisor.Dialer
	Advisor        advisormodel.SessionConfig
	AllowedOrigins []string
	PublicBaseURL  string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	started := time.Now()

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":  "ok",
				"uptime":  time.Since(started).Round(time.Second).String(),
				"reports": deps.Reports.Enabled(),
				"advisor": deps.Dialer != nil,
			})
		})

		reportHandler.New(deps.Reports, deps.History).RegisterRoutes(api)
		historyHandler.New(deps.History).RegisterRoutes(api)
		shareHandler.New(deps.Share, deps.PublicBaseURL).RegisterRoutes(api)
		advisorHandler.New(deps.Dialer, deps.Advisor, deps.AllowedOrigins).RegisterRoutes(api)
	})

	return r
}
