// Package household derives whole-home figures from device readings.
//
// Two device roles matter: the "house-net" sensor on the mains, which
// reads positive while importing and negative while exporting, and the
// "solar" sensor on the inverter feed. From their average_power and
// summation_energy readings the Aggregator publishes:
//
//	home_usage, from_grid, to_grid, solar_generation                  (watts)
//	home_usage_summation, from_grid_summation,
//	to_grid_summation, solar_generation_summation                    (summation_joules)
//
// Production figures (to_grid, solar_generation and their summations)
// are published only after EnableSolar, so homes without panels do not
// see permanently zero series.
package household
