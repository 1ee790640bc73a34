package telemetry

// DefaultStructures is the controller-side mirror of the housekeeping
// structures the endpoint ships enabled by default. It must stay in
// lock-step with whatever cmd/mockaocs registers on the scheduler: the
// decoder has no way to discover a structure's parameter order other than
// this table.
var DefaultStructures = map[uint16][]string{
	1: {
		"att_q_w", "att_q_x", "att_q_y", "att_q_z",
		"body_rate_x", "body_rate_y", "body_rate_z",
	},
	2: {
		"rw0_speed", "rw0_temp", "rw0_cmd_torque",
		"rw1_speed", "rw1_temp", "rw1_cmd_torque",
		"rw2_speed", "rw2_temp", "rw2_cmd_torque",
		"rw3_speed", "rw3_temp", "rw3_cmd_torque",
	},
	3: {
		"mag_x", "mag_y", "mag_z",
		"gyro_x", "gyro_y", "gyro_z",
		"ss0_detected", "ss0_az", "ss0_el",
	},
	4: {
		"thr0_firing", "thr0_temp",
		"thr1_firing", "thr1_temp",
		"thr2_firing", "thr2_temp",
		"thr3_firing", "thr3_temp",
	},
	5: {
		"sada0_angle", "sada0_deployed",
		"sada1_angle", "sada1_deployed",
	},
	6: {
		"sim_time", "sim_running",
		"eci_pos_x", "eci_pos_y", "eci_pos_z",
		"in_eclipse",
	},
}
