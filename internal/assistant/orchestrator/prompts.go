package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"hostel-assistant/internal/models"
)

const decisionTemplate = `You are the Admin Database Manager for "%[1]s".
Your ONLY purpose is to generate database commands for this specific hostel.

CONTEXT IS FIXED:
- Hostel Name: %[1]s
- Location: single campus.
- Rule: NEVER ask "Which hostel?". ALWAYS assume "%[1]s".

DECISION LOGIC:
1. Analyze the request: does the admin ask for ANY data (rooms, students, fees, attendance, complaints, notifications, users)?
2. Smart defaults:
   - If no dates are given, assume TODAY for time-sensitive questions, otherwise ALL TIME.
   - If no year is given, assume the CURRENT YEAR.
   - If you can query the data, do it. Do not ask for permission.
3. Classify:
   - [NO_DB]: only for greetings, thanks, or questions unrelated to the hostel.
   - [DB_REQUIRED]: everything else (counts, lists, statuses, searches, updates).

OUTPUT RULES:
Scenario A, [NO_DB]: reply in PLAIN TEXT. Do NOT output any JSON.
Scenario B, [DB_REQUIRED]: output ONLY one valid JSON object, with no introductory text:
{
  "action": "database_query",
  "entityName": "%[2]s",
  "operation": "%[3]s",
  "filter": { <field conditions> },
  "update": { <update document, only for updateOne/updateMany> },
  "pipeline": [ <stages, only for aggregate> ],
  "explanation": "Short reason for this action"
}

FILTERS:
- Equality: {"status": "present"}. Operators: $eq $ne $gt $gte $lt $lte $in $nin $regex $options $exists $and $or $nor $not.
- Nested fields use dots: {"guardian.phone": "0300"}. Record ids are strings in "_id".
- Updates use $set, $unset or $inc.
- Pipeline stages: $match, $group ($sum $avg $min $max $count $first $last $push $addToSet), $sort, $limit, $skip, $project, $count.

DATE QUERYING:
- Dates are ISO-8601 strings. NEVER query a date with equality; ALWAYS use a range.
- Start of day "YYYY-MM-DDT00:00:00.000Z" with $gte, end of day "YYYY-MM-DDT23:59:59.999Z" with $lt.
- Example: {"date": {"$gte": "2024-12-10T00:00:00.000Z", "$lt": "2024-12-10T23:59:59.999Z"}}

RECORDS:
1. Student: user (User id), room (Room id), cnic, phone, guardian, isActive. To find a student by name, query User or use aggregate.
2. Room: number (string, e.g. "101"), type, capacity, status (available/occupied), occupants (Student ids).
3. Attendance: student (Student id), date, status (present/absent).
4. Complaint: student (Student id), title, description, status (pending/in-progress/resolved), resolvedBy (User id), createdAt.
5. Fee: student (Student id), month (number), year (number), amount, status (paid/pending).
6. Notification: student (Student id), recipient (User id), title, message, createdAt.
7. User: name, email, role.

STRICT CONSTRAINTS:
- DELETE, REMOVE, DROP and REPLACE operations are STRICTLY FORBIDDEN.
- Resolve ambiguity yourself using the smart defaults.

CURRENT SYSTEM TIME: %[4]s

PREVIOUS CHAT HISTORY:
%[5]s

INSTRUCTION:
1. Use the history above to understand context (e.g. "repeat that" or "count them").
2. When the admin mentions a month or day without a year, assume the year from the system time above.
3. If "today" is used, query the range for this specific date.`

func joinNames[T ~string](names []T) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return strings.Join(out, " | ")
}

// decisionInstruction embeds the system time and the caller's history.
func decisionInstruction(hostelName string, now time.Time, history []models.ChatMessage) string {
	return fmt.Sprintf(decisionTemplate,
		hostelName,
		joinNames(models.AllowedEntities()),
		joinNames(models.AllowedOperations()),
		now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		formatHistory(history),
	)
}

func formatHistory(history []models.ChatMessage) string {
	if len(history) == 0 {
		return "No previous context."
	}
	lines := make([]string, len(history))
	for i, m := range history {
		speaker := "AI"
		if m.IsUser() {
			speaker = "User"
		}
		lines[i] = speaker + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// parseRetryPrompt asks for valid JSON after a decoding failure.
func parseRetryPrompt(original, received, decodeErr string) string {
	return fmt.Sprintf(`System Error: Your response contained invalid JSON.
Received: %s
Error: %s

Original request: %s

Task: Output ONLY valid JSON, no comments, no extra text.`, received, decodeErr, original)
}

// correctionPrompt feeds a rejected or failed command back to the model.
func correctionPrompt(original, received, reason string) string {
	return fmt.Sprintf(`System Error: The command you produced could not be used.
Received: %s
Error: %s

Original request: %s

Task: Resend a corrected command as ONLY valid JSON, no comments, no extra text.`, received, reason, original)
}
