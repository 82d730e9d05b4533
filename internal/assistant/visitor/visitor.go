// Package visitor answers public questions about the hostel.
package visitor

import (
	"context"
	"fmt"

	"hostel-assistant/internal/assistant/gateway"
	"hostel-assistant/internal/common/logger"
)

const instructionTemplate = `You are a public-facing AI assistant for "%[1]s".
Your job is to answer general inquiries from visitors and potential students.

**Hostel Information (Public Knowledge):**
- **Location**: 123 University Road, City Campus.
- **Room Types & Prices**:
  - Standard (3-Seater): Rs 8,000/month
  - Deluxe (2-Seater): Rs 12,000/month
  - Suite (1-Seater): Rs 20,000/month
- **Facilities**: High-speed WiFi (Fiber), 24/7 Power Backup, Gym, Library, Mess (3 meals/day included), Weekly Laundry.
- **Admissions**: Open for Fall 2025. Apply online at gravityhostel.com or visit the admin office.
- **Rules**: Curfew at 10:00 PM. No guests allowed in rooms overnight.

**Strict Rules:**
1. **Public Only**: Do NOT answer questions about specific students, staff, or internal admin matters. Keep answers short and to the point, and do not suggest further queries.
2. **Polite & Sales-Oriented**: Be welcoming and highlight features.
3. **Contact**: For more info, guide them to contact@gravityhostel.com.`

type Assistant struct {
	gateway     gateway.Gateway
	instruction string
	logger      logger.Logger
}

func New(gw gateway.Gateway, hostelName string, log logger.Logger) *Assistant {
	if hostelName == "" {
		hostelName = "Gravity Hostel"
	}
	return &Assistant{
		gateway:     gw,
		instruction: fmt.Sprintf(instructionTemplate, hostelName),
		logger:      log.With(map[string]interface{}{"component": "visitor-assistant"}),
	}
}

func (a *Assistant) Answer(ctx context.Context, prompt string) (string, error) {
	return a.gateway.Generate(ctx, prompt, a.instruction)
}
