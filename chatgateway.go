package main

import (
	"net/http"
	"os"
	"strings"

	"ChatWave/global"
	"ChatWave/logger"
	"ChatWave/middleware"
	"ChatWave/service/chat"
	"ChatWave/service/chat/handlers"
	"ChatWave/service/natsx"
	"ChatWave/service/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	defer logger.Sync()

	global.ConfigIds()
	if err := global.ConfigRedis(); err != nil {
		logger.Errorf("[main] redis init failed: %v", err)
		os.Exit(1)
	}
	if err := global.ConfigMongo(); err != nil {
		logger.Errorf("[main] mongo init failed: %v", err)
		os.Exit(1)
	}

	gwID := global.GatewayID()

	users := storage.NewUserStore()
	presence := storage.NewPresence(users, gwID, global.PresenceTTL())
	reads := storage.NewMessageStore()

	// relay is optional: without NATS the gateway serves a single instance
	var relay *chat.NatsRelay
	if servers := global.NatsServers(); len(servers) > 0 && servers[0] != "" {
		mgr, err := natsx.NewManager(natsx.Config{
			Servers:  servers,
			Name:     "chatwave-" + gwID,
			Username: os.Getenv("NATS_USER"),
			Password: os.Getenv("NATS_PASSWORD"),
		})
		if err != nil {
			logger.Warnf("[main] nats unavailable, running standalone: %v", err)
		} else if relay, err = chat.NewNatsRelay(mgr); err != nil {
			logger.Warnf("[main] relay setup failed: %v", err)
			_ = mgr.Close()
			relay = nil
		} else {
			defer func() { _ = mgr.Close() }()
		}
	}

	// typed-nil guard: a nil *NatsRelay must stay a nil interface
	var relayIfc chat.Relay
	if relay != nil {
		relayIfc = relay
	}

	srv := chat.NewServer(chat.Config{GatewayID: gwID}, presence, reads, relayIfc)
	handlers.RegisterAll(srv)

	if relay != nil {
		if err := relay.Start(srv); err != nil {
			logger.Warnf("[main] relay subscribe failed: %v", err)
		}
	}

	var allowed []string
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		allowed = strings.Split(v, ",")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Origin(allowed...))

	r.GET("/ws", srv.HandleWS)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"gateway": gwID,
			"online":  len(srv.Registry().AllOnlineUserIDs()),
		})
	})

	logger.Infof("[main] gateway %s listening on %s", gwID, global.ListenAddr())
	if err := r.Run(global.ListenAddr()); err != nil {
		logger.Errorf("[main] http server failed: %v", err)
		os.Exit(1)
	}
}
