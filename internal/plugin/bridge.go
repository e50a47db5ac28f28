package plugin

import (
	"otterbot/internal/config"
	"otterbot/internal/router"
	"otterbot/internal/runtime/supervisor"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

type PluginConfigRaw = config.PluginConfigRaw

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

// ---- Router API (commands / components / events) ----

type Access = router.Access

const (
	AccessEveryone  = router.AccessEveryone
	AccessModerator = router.AccessModerator
	AccessAdmin     = router.AccessAdmin
)

type Command = router.Command

type Request = router.Request

type HandlerFunc = router.HandlerFunc

type ComponentRoute = router.ComponentRoute

type ComponentHandlerFunc = router.ComponentHandlerFunc

type EventHandler = router.EventHandler
