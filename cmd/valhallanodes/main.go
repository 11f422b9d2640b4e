package main

import (
	"context"

	"valhallanodes/cmd/valhallanodes/commands"
	"valhallanodes/lib/serviceutil"
	"valhallanodes/lib/telemetry"
)

func main() {
	// telemetry is optional, runs work fine without a telemetry.json5
	telemetry.SetupFromEnv(context.Background(), "valhallanodes")
	telemetry.InitSlog(false)
	commands.ExecuteContext(serviceutil.SignalContext())
}
