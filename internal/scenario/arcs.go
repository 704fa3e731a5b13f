package scenario

var (
	tacticalCritical = []string{
		"SOS: Need medical evac at coord 45.1, 9.2",
		"CRITICAL: Structural failure detected on bridge alpha",
		"URGENT: Riot police deploying on Main St",
	}
	tacticalNoise = []string{
		"Telemetry: Temp 22C, Hum 45%",
		"Ping: ACK 33",
		"Telemetry: Battery 88%",
		"Telemetry: Heartbeat OK",
	}
)

// BuiltIn returns the predefined traffic scenarios.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"tactical": {
			Name:        "Tactical",
			Description: "Steady field traffic: mostly sensor chatter with occasional distress calls.",
			Critical:    tacticalCritical,
			Noise:       tacticalNoise,
		},
		"disaster-response": {
			Name:        "Disaster Response",
			Description: "A quiet sensor grid is hit by an earthquake and floods with distress traffic.",
			Critical: []string{
				"SOS: Trapped under debris, sector 4",
				"CRITICAL: Gas leak at pumping station",
				"URGENT: Field hospital at capacity",
				"SOS: Need medical evac at coord 45.1, 9.2",
			},
			Noise: []string{
				"Telemetry: Seismic 0.1g",
				"Telemetry: Battery 71%",
				"Ping: ACK 12",
				"Telemetry: Heartbeat OK",
			},
			Phases: []Phase{
				{
					Name:          "calm",
					Description:   "Routine telemetry from the sensor grid.",
					CriticalRatio: 0.05,
					Triggers:      []Trigger{{Event: EventTimeElapsed, Value: 10, Next: "quake"}},
				},
				{
					Name:          "quake",
					Description:   "Distress calls and sensor alarms saturate the mesh.",
					CriticalRatio: 0.5,
					Burst:         3,
					Triggers:      []Trigger{{Event: EventTimeElapsed, Value: 15, Next: "aftermath"}},
				},
				{
					Name:          "aftermath",
					Description:   "Traffic settles while rescue coordination continues.",
					CriticalRatio: 0.2,
				},
			},
		},
		"iot-telemetry": {
			Name:        "IoT Telemetry",
			Description: "Dense periodic telemetry with rare alarms, useful for measuring flood overhead.",
			Critical:    []string{"CRITICAL: Sensor tamper detected"},
			Noise: []string{
				"Telemetry: Temp 21C",
				"Telemetry: Hum 40%",
				"Telemetry: Battery 93%",
				"Ping: ACK 7",
			},
			Phases: []Phase{
				{
					Name:          "steady",
					CriticalRatio: 0.02,
					Burst:         2,
				},
			},
		},
	}
}
