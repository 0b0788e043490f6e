package server

import (
	"errors"
	"strings"
	"time"

	"github.com/kataras/iris/v12"
	radix "github.com/mediocregopher/radix/v3"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/adapters"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/auth"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/config"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/datamodels/message"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/service"
)

// Deps 路由层依赖，由 main 构建后注入
type Deps struct {
	Cfg      *config.Config
	Svc      *service.MessageService
	Adapters adapters.Registry
	Queue    service.QueuePublisher
	Redis    radix.Client
	Hub      *service.Hub
}

// statusFor 服务层错误到 HTTP 状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrThreadNotFound), errors.Is(err, service.ErrContactNotFound):
		return 404
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrChannelMismatch):
		return 400
	}
	return 500
}

// bearerToken 提取 Authorization 头里的 bearer token。
// 只认 Bearer 方案，其他方案（Basic 等）一律视为未携带；
// websocket 场景浏览器设不了头，退回 query 参数。
func bearerToken(ctx iris.Context) string {
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ctx.URLParam("token")
}

// RegisterRoutes 注册全部 HTTP 路由
func RegisterRoutes(app *iris.Application, d *Deps) {
	tokenCache := auth.NewTokenCache(
		d.Redis,
		auth.NewConsistentHashRing(d.Cfg.Auth.Nodes, d.Cfg.Auth.HashReplicas),
		time.Duration(d.Cfg.Auth.TokenCacheTTLSeconds)*time.Second,
	)

	// 健康检查（无鉴权的存活探针）
	app.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	registerWebhooks(app, d)

	// ---------- 前台 API（bearer token 鉴权） ----------
	api := app.Party("/api", func(ctx iris.Context) {
		token := bearerToken(ctx)
		if token == "" {
			ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "missing token"})
			return
		}
		reqCtx := ctx.Request().Context()
		claims, hit, err := tokenCache.Get(reqCtx, token)
		if err != nil || !hit {
			claims, err = auth.ParseToken(&d.Cfg.JWT, token)
			if err != nil {
				ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "invalid token"})
				return
			}
			_ = tokenCache.Set(reqCtx, token, claims)
		}
		ctx.Values().Set("user_id", claims.UserID)
		ctx.Values().Set("username", claims.Username)
		ctx.Next()
	})

	// 会话列表：活跃会话按最近活跃排序，带联系人摘要和最后消息快照
	api.Get("/threads", func(ctx iris.Context) {
		list, err := d.Svc.ListThreads(ctx.Request().Context())
		if err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": list})
	})

	// 会话历史：升序分页
	api.Get("/threads/{id}/messages", func(ctx iris.Context) {
		page := ctx.URLParamIntDefault("page", 1)
		limit := ctx.URLParamIntDefault("limit", 30)
		list, err := d.Svc.ListMessages(ctx.Request().Context(), ctx.Params().Get("id"), page, limit)
		if err != nil {
			ctx.StopWithJSON(statusFor(err), iris.Map{"code": statusFor(err), "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": list})
	})

	api.Put("/threads/{id}/read", func(ctx iris.Context) {
		if err := d.Svc.MarkThreadAsRead(ctx.Request().Context(), ctx.Params().Get("id")); err != nil {
			ctx.StopWithJSON(statusFor(err), iris.Map{"code": statusFor(err), "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0})
	})

	api.Put("/threads/{id}/archive", func(ctx iris.Context) {
		if err := d.Svc.ArchiveThread(ctx.Request().Context(), ctx.Params().Get("id")); err != nil {
			ctx.StopWithJSON(statusFor(err), iris.Map{"code": statusFor(err), "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0})
	})

	// 出站发送：同步返回已持久化的消息，平台投递异步完成
	api.Post("/send", func(ctx iris.Context) {
		var req struct {
			ThreadID string          `json:"threadId"`
			Channel  string          `json:"channel"`
			Content  message.Content `json:"content"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if req.ThreadID == "" || req.Channel == "" {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": "threadId and channel are required"})
			return
		}
		ch, err := channel.Parse(req.Channel)
		if err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		m, err := d.Svc.SendMessage(ctx.Request().Context(), req.ThreadID, ch, req.Content)
		if err != nil {
			ctx.StopWithJSON(statusFor(err), iris.Map{"code": statusFor(err), "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": m})
	})

	// 联系人关联患者档案
	api.Put("/contacts/{id:uint64}/link", func(ctx iris.Context) {
		var req struct {
			PatientRef string `json:"patientRef"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		id := ctx.Params().GetUint64Default("id", 0)
		c, err := d.Svc.LinkContact(ctx.Request().Context(), id, req.PatientRef)
		if err != nil {
			ctx.StopWithJSON(statusFor(err), iris.Map{"code": statusFor(err), "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": c})
	})

	// 渠道能力描述，前端按此渲染编辑框
	api.Get("/channels", func(ctx iris.Context) {
		caps := make(map[string]channel.Capabilities, len(channel.All()))
		for _, ch := range channel.All() {
			caps[ch.String()] = channel.CapabilitiesOf(ch)
		}
		ctx.JSON(iris.Map{"code": 0, "data": caps})
	})

	// 运行计数只读暴露
	api.Get("/monitor", func(ctx iris.Context) {
		snap := service.GetMonitor().Snapshot()
		ctx.JSON(iris.Map{"code": 0, "data": iris.Map{
			"webhookReceived":   snap.WebhookReceived,
			"webhookRejected":   snap.WebhookRejected,
			"inboundProcessed":  snap.InboundProcessed,
			"inboundDuplicates": snap.InboundDuplicates,
			"outboundSent":      snap.OutboundSent,
			"outboundRetried":   snap.OutboundRetried,
			"outboundFailed":    snap.OutboundFailed,
			"deadLettered":      snap.DeadLettered,
			"mqErrors":          snap.MQErrors,
			"dbErrors":          snap.DBErrors,
			"broadcastErrors":   snap.BroadcastErrors,
			"subscribers":       d.Hub.SubscriberCount(),
		}})
	})

	// 实时事件流：鉴权通过后升级为 websocket
	api.Get("/ws", func(ctx iris.Context) {
		if err := d.Hub.HandleUpgrade(ctx.ResponseWriter(), ctx.Request()); err != nil {
			zap.L().Warn("websocket upgrade failed", zap.Error(err))
		}
	})
}
