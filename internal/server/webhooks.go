package server

import (
	"encoding/json"

	"github.com/kataras/iris/v12"
	"go.uber.org/zap"

	"github.com/TWAIKODEV/petpassvet-sub002/internal/adapters"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/channel"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/infra/mq"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/middleware"
	"github.com/TWAIKODEV/petpassvet-sub002/internal/service"
)

// registerWebhooks 注册六个渠道的 webhook 入口。
// 成功响应只在信封全部入队之后返回：入队失败就让平台重试，绝不静默丢弃。
func registerWebhooks(app *iris.Application, d *Deps) {
	hooks := app.Party("/webhooks", middleware.WebhookRateLimit())

	// 订阅握手：Meta 系 GET 带 hub.verify_token / hub.challenge
	hooks.Get("/{channel}", func(ctx iris.Context) {
		ch, err := channel.Parse(ctx.Params().Get("channel"))
		if err != nil {
			ctx.StopWithStatus(404)
			return
		}
		a, err := d.Adapters.Get(ch)
		if err != nil {
			ctx.StopWithStatus(404)
			return
		}
		if v, ok := a.(adapters.SubscriptionVerifier); ok {
			if v.VerifySubscription(ctx.URLParam("hub.mode"), ctx.URLParam("hub.verify_token")) {
				ctx.WriteString(ctx.URLParam("hub.challenge"))
				return
			}
		}
		service.GetMonitor().RecordWebhookRejected()
		ctx.StopWithStatus(403)
	})

	hooks.Post("/{channel}", func(ctx iris.Context) {
		ch, err := channel.Parse(ctx.Params().Get("channel"))
		if err != nil {
			ctx.StopWithStatus(404)
			return
		}
		a, err := d.Adapters.Get(ch)
		if err != nil {
			ctx.StopWithStatus(404)
			return
		}
		service.GetMonitor().RecordWebhook()

		// Graph 订阅验证：原样回显 validationToken
		if ch == channel.Outlook {
			if token := ctx.URLParam("validationToken"); token != "" {
				ctx.ContentType("text/plain")
				ctx.WriteString(token)
				return
			}
		}

		body, err := ctx.GetBody()
		if err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": "unreadable body"})
			return
		}

		// 验签失败的事件绝不入队
		if err := a.VerifyWebhook(ctx.Request(), body); err != nil {
			service.GetMonitor().RecordWebhookRejected()
			zap.L().Warn("webhook rejected",
				zap.String("channel", ch.String()),
				zap.Error(err))
			ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "signature verification failed"})
			return
		}

		envs, err := a.ParseWebhook(ctx.Request().Context(), body)
		if err != nil {
			// 单个畸形事件不拖垮进程：记日志，告诉平台别再投了
			zap.L().Warn("webhook parse failed",
				zap.String("channel", ch.String()),
				zap.Error(err))
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": "malformed payload"})
			return
		}

		// 同步入队 + 同步应答，webhook 延迟与核心服务负载解耦；
		// 去重交给核心服务，这里可能为同一事件被调用两次
		for _, env := range envs {
			payload, err := json.Marshal(env)
			if err != nil {
				ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": "encode envelope"})
				return
			}
			if err := d.Queue.Publish(ctx.Request().Context(), mq.InboundQueue, payload); err != nil {
				service.GetMonitor().RecordMQError()
				zap.L().Error("enqueue inbound failed",
					zap.String("channel", ch.String()),
					zap.Error(err))
				ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": "enqueue failed"})
				return
			}
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok", "events": len(envs)})
	})
}
