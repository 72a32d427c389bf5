package config

import "time"

const (
	defaultGRPCAddress    = ":56100"
	defaultMaxRecvMsgSize = 4 * 1024 * 1024
	defaultRPCTimeout     = 30 * time.Second

	defaultPromAddress = ":56190"

	defaultPoolName    = "default"
	defaultPoolWorkers = 4

	defaultLogFormat = LogFormatText
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)
