package ingestion

import (
	"strings"

	"solsniper"
)

// couldBePoolCreation applies the DEX-specific "could be pool-creation" log
// filter used by the WebSocket path before paying for a full transaction
// fetch (spec §4.6).
func couldBePoolCreation(dex solsniper.Dex, logs []string) bool {
	var needles []string
	switch dex {
	case solsniper.DexPumpfun:
		needles = []string{"Instruction: Create", "Instruction: Initialize"}
	case solsniper.DexRaydium:
		needles = []string{"initialize2", "Initialize", "ray_log"}
	case solsniper.DexOrca:
		needles = []string{"InitializePool", "InitializeConfig"}
	default:
		return false
	}
	for _, line := range logs {
		for _, n := range needles {
			if strings.Contains(line, n) {
				return true
			}
		}
	}
	return false
}
