package display

import (
	"github.com/rs/zerolog"
)

// Console writes frames to the log. It is the default device on hosts
// without a panel attached.
type Console struct {
	logger zerolog.Logger
}

func NewConsole(logger *zerolog.Logger) *Console {
	return &Console{logger: logger.With().Str("component", "console-display").Logger()}
}

func (c *Console) Init() error {
	c.logger.Info().Int("width", PanelWidth).Int("height", PanelHeight).Msg("display initialized")
	return nil
}

func (c *Console) Clear() error {
	c.logger.Debug().Msg("display cleared")
	return nil
}

func (c *Console) Show(f *Frame) error {
	c.logger.Info().
		Stringer("view", f.View).
		Str("title", f.Title).
		Strs("lines", f.Lines).
		Bool("occupied", f.Occupied).
		Stringer("connection", f.Connection).
		Msg("frame")
	return nil
}

func (c *Console) Sleep() error {
	c.logger.Info().Msg("display sleeping")
	return nil
}
