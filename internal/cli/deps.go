package cli

import (
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"promoagent/internal/catalog"
	"promoagent/internal/config"
	"promoagent/internal/db"
	"promoagent/internal/llm"
	"promoagent/internal/secrets"
	"promoagent/internal/security"
	"promoagent/internal/telegram"
)

// laneIdleTimeout is how long an idle session lane is kept.
const laneIdleTimeout = 10 * time.Minute

// Function variables for dependency injection in tests.
// Default values are the real implementations; tests may temporarily swap them.
var (
	osStat             = os.Stat
	configWriteDefault = config.WriteDefault
	configLoad         = config.Load
	configSave         = config.Save
	secretsManager     = secrets.DefaultManager
	catalogOpen        = catalog.Open
	catalogLoadFile    = catalog.LoadFile
	dbConnect          = db.Connect
	llmNew             = llm.New
	setValueAtPathFn   = setValueAtPath
	euidGetter         = security.EffectiveUIDGetter()
	newBotAPI          = func(token string) (telegram.BotAPI, error) {
		return tgbotapi.NewBotAPI(token)
	}
)
