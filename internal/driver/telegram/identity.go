package telegram

// DriverType is the configured driver type token for the Telegram runtime.
const DriverType = "telegram"
