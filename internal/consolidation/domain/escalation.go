package domain

// DefaultEscalationBands: polite below 14 days, firm 14-30, urgent 31-60, final after 60.
func DefaultEscalationBands() []EscalationBand {
	return []EscalationBand{
		{Level: EscalationPolite, MinDays: 0},
		{Level: EscalationFirm, MinDays: 14},
		{Level: EscalationUrgent, MinDays: 31},
		{Level: EscalationFinal, MinDays: 61},
	}
}

// EscalationFor picks the last band whose MinDays is reached. Bands must be ascending.
func EscalationFor(ageDays int, bands []EscalationBand) EscalationLevel {
	if len(bands) == 0 {
		bands = DefaultEscalationBands()
	}
	level := bands[0].Level
	for _, band := range bands {
		if ageDays < band.MinDays {
			break
		}
		level = band.Level
	}
	return level
}
