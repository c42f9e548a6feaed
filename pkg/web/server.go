package web

import (
	"github.com/flaboy/aira-splitpay/pkg/intent"
	"github.com/flaboy/aira-splitpay/pkg/paymentlink"
	"github.com/flaboy/aira-splitpay/pkg/statement"
	"github.com/gin-gonic/gin"
)

// Server 付款页面、渠道回调和对账单接口
type Server struct {
	intents   *intent.Service
	links     *paymentlink.Service
	statement *statement.Service
	router    *gin.Engine
}

func NewServer(intents *intent.Service, links *paymentlink.Service, st *statement.Service) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{intents: intents, links: links, statement: st, router: router}

	router.GET("/pay/:token", s.handleResolveLink)
	router.POST("/pay/:token/checkout", s.handleLinkCheckout)

	router.GET("/group/:token/slots", s.handleAvailableSlots)
	router.POST("/group/:token/checkout", s.handleSlotCheckout)

	payment := router.Group("/payment/:provider")
	{
		payment.POST("/webhook", s.handleWebhook)
		payment.GET("/webhook", s.handleWebhook)
		payment.GET("/return/:intent", s.handleReturn)
		payment.POST("/return/:intent", s.handleReturn)
	}

	router.GET("/bookings/:booking/statement", s.handleStatement)
	router.GET("/bookings/:booking/statement.xlsx", s.handleStatementExport)

	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.router
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
