package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// telephonyWebhook receives provider callbacks. The payload signature is
// verified before any lookup; events for terminal calls return 200
// without changing anything, so provider redeliveries are safe.
func (h *HandlerSet) telephonyWebhook(ctx *fiber.Ctx) error {
	fields, err := webhookFields(ctx)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid webhook payload")
	}

	event, err := h.verifier.Decode(fields)
	if err != nil {
		return translateError(err)
	}

	if err := h.orch.ApplyWebhookEvent(ctx.Context(), event); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

// webhookFields flattens the request body to the string fields the
// signature covers. Providers send either form-encoded or flat JSON.
func webhookFields(ctx *fiber.Ctx) (map[string]string, error) {
	contentType := string(ctx.Request().Header.ContentType())

	if strings.HasPrefix(contentType, fiber.MIMEApplicationForm) {
		values, err := url.ParseQuery(string(ctx.Body()))
		if err != nil {
			return nil, err
		}
		fields := make(map[string]string, len(values))
		for key := range values {
			fields[key] = values.Get(key)
		}
		return fields, nil
	}

	var fields map[string]string
	if err := json.Unmarshal(ctx.Body(), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
