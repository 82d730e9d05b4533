// Package student answers a signed-in student's questions from a read-only
// snapshot of their own records.
package student

import (
	"context"
	"encoding/json"
	"fmt"

	"hostel-assistant/internal/assistant/gateway"
	"hostel-assistant/internal/common/logger"
	"hostel-assistant/internal/models"
)

const instructionTemplate = `You are a helpful AI assistant for a student named %[1]s.
Your job is to answer questions based ONLY on the provided student data.

**Student Data Context (READ ONLY):**
- Name: %[1]s
- Room: %[2]s
- Attendance: %[3]s
- Attendance summary: %[4]d present, %[5]d absent
- Fees: %[6]s
- Notifications: %[7]s

**Strict Rules:**
1. **Privacy First**: You act ONLY as this student's assistant. You cannot access or answer about any other student.
2. **Relevance**: Answer "What is my attendance?" by calculating it from the context provided.
3. **No Hallucination**: If data (like fees) is missing in context, say "I don't have that information right now."
4. **Tone**: Friendly and encouraging. Keep answers short and to the point, and do not suggest further queries.`

// Loader supplies the student's context.
type Loader interface {
	Load(ctx context.Context, userID string) (*models.StudentContext, error)
}

type Assistant struct {
	gateway gateway.Gateway
	loader  Loader
	logger  logger.Logger
}

func New(gw gateway.Gateway, loader Loader, log logger.Logger) *Assistant {
	return &Assistant{
		gateway: gw,
		loader:  loader,
		logger:  log.With(map[string]interface{}{"component": "student-assistant"}),
	}
}

// Answer replies to prompt for the student linked to userID.
func (a *Assistant) Answer(ctx context.Context, userID, prompt string) (string, error) {
	sc, err := a.loader.Load(ctx, userID)
	if err != nil {
		return "", err
	}

	instruction, err := buildInstruction(sc)
	if err != nil {
		return "", err
	}
	return a.gateway.Generate(ctx, prompt, instruction)
}

func buildInstruction(sc *models.StudentContext) (string, error) {
	attendance, err := compactJSON(sc.Attendance)
	if err != nil {
		return "", err
	}
	fees, err := compactJSON(sc.Fees)
	if err != nil {
		return "", err
	}
	notifications, err := compactJSON(sc.Notifications)
	if err != nil {
		return "", err
	}

	room := sc.Room
	if room == "" {
		room = "Not assigned"
	}
	present, absent := sc.AttendanceSummary()
	return fmt.Sprintf(instructionTemplate, sc.Name, room, attendance, present, absent, fees, notifications), nil
}

func compactJSON(docs []models.Document) (string, error) {
	if docs == nil {
		docs = []models.Document{}
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("encode student context: %w", err)
	}
	return string(raw), nil
}
