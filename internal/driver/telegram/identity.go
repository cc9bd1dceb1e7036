package telegram

import "memoria/pkg/memoria"

const (
	// DriverType is the configured driver type token for the Telegram runtime.
	DriverType = "telegram"
	// DriverPlatform is the platform produced by the Telegram runtime.
	DriverPlatform memoria.Platform = memoria.PlatformTelegram
)
