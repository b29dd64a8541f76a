package config

import "log/slog"

// migrateSettings fills in values that older or hand-edited settings files
// leave zeroed.
func migrateSettings(s *Settings) {
	def := Default()

	// Files written before the jumper lines were configurable sense the
	// output lines, like the simulated part.
	if s.Board.Pins.Jumper == [2]int{} {
		s.Board.Pins.Jumper = s.Board.Pins.Outputs
		slog.Debug("config: migrated jumper lines to outputs", "jumper", s.Board.Pins.Jumper)
	}
	if s.Board.EEPROM == "" {
		s.Board.EEPROM = def.Board.EEPROM
	}
	if s.Telemetry.Serial != "" && s.Telemetry.Baud == 0 {
		s.Telemetry.Baud = def.Telemetry.Baud
	}
	if s.Timing.Poll == 0 {
		s.Timing.Poll = def.Timing.Poll
	}
	if s.Timing.Loop == 0 {
		s.Timing.Loop = def.Timing.Loop
	}
}
