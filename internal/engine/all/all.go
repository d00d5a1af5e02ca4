package all

// Import every built-in engine so its init() registration runs. Entry
// points import this single package; adding an engine never touches main.

import (
	_ "github.com/albertklubabot-sketch/gie20/internal/engine/aggressive"
	_ "github.com/albertklubabot-sketch/gie20/internal/engine/cautious"
	_ "github.com/albertklubabot-sketch/gie20/internal/engine/reflex"
)
