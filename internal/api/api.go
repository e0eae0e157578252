package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/afribourse/internal/domain"
	"github.com/victornm/afribourse/internal/errors"
	"github.com/victornm/afribourse/internal/event"
	"github.com/victornm/afribourse/internal/leaderboard"
	"github.com/victornm/afribourse/internal/ledger"
	"github.com/victornm/afribourse/internal/quiz"
	"github.com/victornm/afribourse/internal/xp"
)

type Config struct {
	Router      gin.IRouter
	EventBus    *event.Bus
	Quiz        *quiz.Service
	Ledger      *ledger.Service
	XP          *xp.Service
	Leaderboard *leaderboard.Service

	Redis        Redis
	PubsubPrefix string

	// JWTSecret verifies the HS256 bearer tokens of /api/v1.
	JWTSecret string

	Now func() time.Time
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qs *quiz.Service
	ls *ledger.Service
	xs *xp.Service
	bs *leaderboard.Service

	redis  Redis
	prefix string
	secret []byte
	now    func() time.Time
}

func New(c Config) *API {
	a := &API{
		qs:     c.Quiz,
		ls:     c.Ledger,
		xs:     c.XP,
		bs:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		secret: []byte(c.JWTSecret),
		now:    c.Now,
	}

	if a.now == nil {
		a.now = time.Now
	}

	registerValidations()

	// HTTP APIs
	v1 := c.Router.Group("/api/v1", a.authenticate)

	v1.POST("/quiz/:moduleId/start", a.StartQuiz)
	v1.POST("/quiz/:moduleId/submit", a.SubmitQuiz)
	v1.GET("/quiz/:moduleId/attempts", a.ListAttempts)
	v1.GET("/learning/progress", a.GetProgress)

	v1.POST("/portfolios", a.OpenPortfolio)
	v1.GET("/portfolios", a.ListPortfolios)
	v1.GET("/portfolios/:id", a.GetPortfolio)
	v1.POST("/portfolios/:id/orders", a.ExecuteOrder)
	v1.GET("/portfolios/:id/transactions", a.ListTransactions)
	v1.GET("/portfolios/:id/history", a.History)

	v1.GET("/xp/me", a.GetXPStats)
	v1.GET("/xp/history", a.GetXPHistory)
	v1.GET("/xp/leaderboard", a.GetLeaderboard)

	// Register event handlers
	if c.EventBus != nil && c.Redis != nil {
		c.EventBus.Subscribe(domain.EventNameXPAwarded, func(ctx context.Context, e event.Event) error {
			return a.PublishXPAwarded(ctx, e.(domain.EventXPAwarded))
		})
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

func (a *API) StartQuiz(c *gin.Context) {
	resp, err := a.qs.StartQuiz(c.Request.Context(), quiz.StartQuizRequest{
		LearnerID: userID(c),
		ModuleID:  c.Param("moduleId"),
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	render[StartQuizResponse](a, c, http.StatusCreated, resp)
}

func (a *API) SubmitQuiz(c *gin.Context) {
	var req SubmitQuizRequest
	if !a.bind(c, c.ShouldBindJSON, &req) {
		return
	}

	resp, err := a.qs.SubmitQuiz(c.Request.Context(), quiz.SubmitQuizRequest{
		LearnerID:  userID(c),
		ModuleID:   c.Param("moduleId"),
		AttemptRef: req.AttemptRef,
		Answers:    req.Answers,
		TimeSpent:  time.Duration(req.TimeSpentSeconds) * time.Second,
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	out := SubmitQuizResponse{
		Progress:          progressOf(resp.Progress),
		PassingScore:      resp.PassingScore,
		AttemptsRemaining: resp.AttemptsRemaining,
		RetryAt:           resp.RetryAt,
	}
	if err := copyInto(&out.Attempt, resp.Attempt); err != nil {
		a.renderError(c, err)
		return
	}
	if out.Results, err = copyList[QuestionResult](resp.Results); err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) ListAttempts(c *gin.Context) {
	resp, err := a.qs.ListAttempts(c.Request.Context(), quiz.ListAttemptsRequest{
		LearnerID: userID(c),
		ModuleID:  c.Param("moduleId"),
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	out := AttemptList{
		AttemptsRemaining: resp.AttemptsRemaining,
		RetryAt:           resp.RetryAt,
	}
	if out.Attempts, err = copyList[QuizAttempt](resp.Attempts); err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) GetProgress(c *gin.Context) {
	ps, err := a.qs.GetProgress(c.Request.Context(), quiz.GetProgressRequest{LearnerID: userID(c)})
	if err != nil {
		a.renderError(c, err)
		return
	}

	out := ProgressList{Progress: make([]Progress, 0, len(ps))}
	for _, p := range ps {
		out.Progress = append(out.Progress, progressOf(p))
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) OpenPortfolio(c *gin.Context) {
	var req OpenPortfolioRequest
	if !a.bind(c, c.ShouldBindJSON, &req) {
		return
	}

	p, err := a.ls.OpenPortfolio(c.Request.Context(), ledger.OpenPortfolioRequest{
		UserID:     userID(c),
		WalletType: domain.WalletType(req.WalletType),
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	render[Portfolio](a, c, http.StatusCreated, p)
}

func (a *API) ListPortfolios(c *gin.Context) {
	ps, err := a.ls.ListPortfolios(c.Request.Context(), ledger.ListPortfoliosRequest{UserID: userID(c)})
	if err != nil {
		a.renderError(c, err)
		return
	}

	out, err := copyList[Portfolio](ps)
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, PortfolioList{Portfolios: out})
}

func (a *API) GetPortfolio(c *gin.Context) {
	p, err := a.ls.GetPortfolio(c.Request.Context(), ledger.GetPortfolioRequest{
		UserID:      userID(c),
		PortfolioID: c.Param("id"),
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	render[Portfolio](a, c, http.StatusOK, p)
}

func (a *API) ExecuteOrder(c *gin.Context) {
	var req OrderRequest
	if !a.bind(c, c.ShouldBindJSON, &req) {
		return
	}

	order := ledger.OrderRequest{
		UserID:      userID(c),
		PortfolioID: c.Param("id"),
		Side:        domain.Side(strings.ToUpper(req.Side)),
		Ticker:      req.Ticker,
		Quantity:    req.Quantity,
		Price:       req.Price,
	}
	if req.AsOf != nil {
		order.AsOf = *req.AsOf
	}

	resp, err := a.ls.ExecuteOrder(c.Request.Context(), order)
	if err != nil {
		a.renderError(c, err)
		return
	}

	out := OrderResponse{CashBalance: resp.CashBalance}
	if err := copyInto(&out.Transaction, resp.Transaction); err != nil {
		a.renderError(c, err)
		return
	}
	if resp.Position != nil {
		out.Position = new(Position)
		if err := copyInto(out.Position, resp.Position); err != nil {
			a.renderError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, out)
}

func (a *API) ListTransactions(c *gin.Context) {
	var q PageQuery
	if !a.bind(c, c.ShouldBindQuery, &q) {
		return
	}

	ts, err := a.ls.ListTransactions(c.Request.Context(), ledger.ListTransactionsRequest{
		UserID:      userID(c),
		PortfolioID: c.Param("id"),
		Limit:       q.Limit,
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	out, err := copyList[Transaction](ts)
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, TransactionList{Transactions: out})
}

func (a *API) History(c *gin.Context) {
	ss, err := a.ls.History(c.Request.Context(), ledger.HistoryRequest{
		UserID:      userID(c),
		PortfolioID: c.Param("id"),
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	out := SnapshotList{Snapshots: make([]Snapshot, 0, len(ss))}
	for _, s := range ss {
		out.Snapshots = append(out.Snapshots, Snapshot{
			Date:          s.Date.Format(time.DateOnly),
			Cash:          s.Cash,
			HoldingsValue: s.HoldingsValue,
			TotalValue:    s.TotalValue,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) GetXPStats(c *gin.Context) {
	ctx := c.Request.Context()

	st, err := a.xs.Stats(ctx, xp.StatsRequest{UserID: userID(c)})
	if err != nil {
		a.renderError(c, err)
		return
	}

	var out XPStats
	if err := copyInto(&out, st); err != nil {
		a.renderError(c, err)
		return
	}

	r, err := a.bs.Rank(ctx, leaderboard.RankRequest{UserID: st.UserID})
	switch {
	case err == nil:
		out.Rank = &r.Rank
	case errors.Convert(err).Code != errors.CodeNotFound:
		slog.WarnContext(ctx, "api: get rank failed", "user", st.UserID, "error", err)
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) GetXPHistory(c *gin.Context) {
	var q PageQuery
	if !a.bind(c, c.ShouldBindQuery, &q) {
		return
	}

	es, err := a.xs.History(c.Request.Context(), xp.HistoryRequest{UserID: userID(c), Limit: q.Limit})
	if err != nil {
		a.renderError(c, err)
		return
	}

	out, err := copyList[XPEvent](es)
	if err != nil {
		a.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, XPEventList{Events: out})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	var q PageQuery
	if !a.bind(c, c.ShouldBindQuery, &q) {
		return
	}

	l, err := a.bs.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{Limit: q.Limit})
	if err != nil {
		a.renderError(c, err)
		return
	}

	render[Leaderboard](a, c, http.StatusOK, l)
}
