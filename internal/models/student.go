package models

// StudentContext is the read-only snapshot a student's assistant answers from.
type StudentContext struct {
	StudentID     string     `json:"studentId"`
	Name          string     `json:"name"`
	Room          string     `json:"room"`
	Attendance    []Document `json:"attendance"`
	Fees          []Document `json:"fees"`
	Notifications []Document `json:"notifications"`
}

// AttendanceSummary counts present and absent records in the snapshot.
func (s *StudentContext) AttendanceSummary() (present, absent int) {
	for _, rec := range s.Attendance {
		switch rec["status"] {
		case "present":
			present++
		case "absent":
			absent++
		}
	}
	return present, absent
}
