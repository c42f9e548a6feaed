package web

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/flaboy/aira-splitpay/pkg/errors"
	"github.com/flaboy/aira-splitpay/pkg/extensions/payment/types"
	"github.com/flaboy/aira-splitpay/pkg/intent"
	"github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

type checkoutBody struct {
	Provider     models.Provider `json:"provider" binding:"required"`
	Method       string          `json:"method"`
	PayerName    string          `json:"payer_name"`
	PayerEmail   string          `json:"payer_email"`
	SubBookingID uint            `json:"sub_booking_id"`
	Count        int             `json:"count"`
	CustomerID   uint            `json:"customer_id"`
}

func (s *Server) handleResolveLink(c *gin.Context) {
	res, err := s.links.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleLinkCheckout(c *gin.Context) {
	var body checkoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errors.ErrValidation)
		return
	}
	out, err := s.intents.CheckoutLink(c.Request.Context(), intent.LinkCheckoutRequest{
		LinkToken:  c.Param("token"),
		CustomerID: body.CustomerID,
		Provider:   body.Provider,
		Method:     body.Method,
		PayerName:  body.PayerName,
		PayerEmail: body.PayerEmail,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleAvailableSlots(c *gin.Context) {
	list, err := s.intents.AvailableSlots(c.Request.Context(), c.Param("token"), cast.ToUint(c.Query("sub_booking_id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": list, "count": len(list)})
}

func (s *Server) handleSlotCheckout(c *gin.Context) {
	var body checkoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errors.ErrValidation)
		return
	}
	out, err := s.intents.CheckoutSlots(c.Request.Context(), intent.SlotCheckoutRequest{
		GroupToken:   c.Param("token"),
		SubBookingID: body.SubBookingID,
		Count:        body.Count,
		CustomerID:   body.CustomerID,
		Provider:     body.Provider,
		Method:       body.Method,
		PayerName:    body.PayerName,
		PayerEmail:   body.PayerEmail,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// handleWebhook 除签名错误和存储故障外都返回 200，避免渠道无意义地重试。
// 记账失败已进入重试流程，同样应答 200。
func (s *Server) handleWebhook(c *gin.Context) {
	provider := models.Provider(c.Param("provider"))
	req, err := callbackRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	outcome, err := s.intents.HandleCallback(c.Request.Context(), provider, req)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": outcome})
	case stderrors.Is(err, errors.ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
	case stderrors.Is(err, errors.ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
	case stderrors.Is(err, errors.ErrLedger):
		c.JSON(http.StatusOK, gin.H{"status": "accepted"})
	default:
		slog.Error("[Web] Webhook handling failed", "provider", provider, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temporary failure"})
	}
}

// handleReturn 用户从渠道返回。PayPal 在此完成捕获，其它渠道以异步通知为准。
func (s *Server) handleReturn(c *gin.Context) {
	ctx := c.Request.Context()
	provider := models.Provider(c.Param("provider"))
	token := c.Param("intent")

	in, err := s.intents.Get(ctx, token)
	if err == nil && in.Provider != provider {
		err = errors.ErrIntentNotFound
	}
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("result") == "ko" {
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "message": errors.MessagePaymentFailed})
		return
	}

	if s.intents.SettlesOnReturn(provider) {
		req, err := callbackRequest(c)
		if err != nil {
			writeError(c, errors.ErrValidation)
			return
		}
		if _, err := s.intents.HandleCallback(ctx, provider, req); err != nil && !stderrors.Is(err, errors.ErrLedger) {
			writeError(c, err)
			return
		}
	}

	if in, err = s.intents.ReturnOK(ctx, token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": in.Status, "intent": in.Token})
}

func (s *Server) handleStatement(c *gin.Context) {
	list, err := s.statement.List(c.Request.Context(), cast.ToUint(c.Param("booking")), cast.ToUint(c.Query("sub_booking_id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": list})
}

func (s *Server) handleStatementExport(c *gin.Context) {
	bookingID := cast.ToUint(c.Param("booking"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=statement-"+c.Param("booking")+".xlsx")
	if err := s.statement.ExportXLSX(c.Request.Context(), bookingID, c.Writer); err != nil {
		slog.Error("[Web] Statement export failed", "booking", bookingID, "error", err)
		c.Status(http.StatusInternalServerError)
	}
}

func callbackRequest(c *gin.Context) (*types.CallbackRequest, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	req := &types.CallbackRequest{
		Body:    body,
		Form:    url.Values{},
		Query:   c.Request.URL.Query(),
		Headers: c.Request.Header,
	}
	if strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(body)); err == nil {
			req.Form = form
		}
	}
	return req, nil
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case stderrors.Is(err, errors.ErrValidation), stderrors.Is(err, errors.ErrProviderNotFound):
		status = http.StatusBadRequest
	case stderrors.Is(err, errors.ErrLinkNotFound), stderrors.Is(err, errors.ErrIntentNotFound):
		status = http.StatusNotFound
	case stderrors.Is(err, errors.ErrLinkExpired):
		status = http.StatusGone
	case stderrors.Is(err, errors.ErrLinkNotActive), stderrors.Is(err, errors.ErrNoSlotsRemaining):
		status = http.StatusConflict
	case stderrors.Is(err, errors.ErrProviderRequest), stderrors.Is(err, errors.ErrLedger):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		slog.Error("[Web] Request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": errors.UserMessage(err)})
}
