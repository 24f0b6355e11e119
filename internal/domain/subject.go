// Package domain holds the core value types shared across the tutor server.
package domain

// Subject is a static reference entity from the fixed subject catalog.
// Subjects are loaded once at startup and never created or destroyed at runtime.
type Subject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Subjects is the fixed catalog of tutored subjects.
var Subjects = []Subject{
	{ID: "korean", Name: "국어", Description: "문학·문법·독서"},
	{ID: "math", Name: "수학", Description: "미적분·확통·기하"},
	{ID: "english", Name: "영어", Description: "독해·문법·어휘"},
	{ID: "biology", Name: "생명과학", Description: "세포·유전·생태"},
	{ID: "earth", Name: "지구과학", Description: "지질·천문·대기"},
}

// SubjectByID looks up a catalog subject. The second return is false for
// unknown ids.
func SubjectByID(id string) (Subject, bool) {
	for _, s := range Subjects {
		if s.ID == id {
			return s, true
		}
	}
	return Subject{}, false
}
