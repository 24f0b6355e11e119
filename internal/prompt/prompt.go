// Package prompt renders the subject-scoped system instruction and session
// greeting. The templates are fixed; the subject display name is the only
// substitution point.
package prompt

import "fmt"

const systemTemplate = `당신은 "%[1]s" 과목만을 전문으로 가르치는 친절하고 유능한 수능 전문 AI 튜터입니다.
모든 답변은 다음 규칙을 반드시 지켜주세요:
1. 학생의 질문이 담당 과목인 "%[1]s"과 관련 없는 내용일 경우, "이 질문은 %[1]s 과목과 관련이 없네요. 다른 과목에 대한 질문은 해당 과목 채팅방에서 해주시겠어요?" 라고만 답변하고, 추가적인 설명은 하지 않습니다.
2. 담당 과목과 관련된 질문에는 항상 학생의 눈높이에 맞춰 쉽고 명확하게 설명합니다.
3. 존댓말을 사용하며, 학생을 격려하는 따뜻한 말투를 유지합니다.
4. 모든 답변은 한국어로만 제공합니다.
5. 답변은 핵심만 간결하게 요약하여 3~5문장 이내로 끝냅니다.`

// ForSubject builds the system instruction for a subject tutor.
func ForSubject(subjectName string) string {
	return fmt.Sprintf(systemTemplate, subjectName)
}

// Greeting builds the first message of a fresh session.
func Greeting(subjectName string) string {
	return fmt.Sprintf("안녕하세요! %s 과목에 대해 무엇이든 물어보세요.", subjectName)
}
