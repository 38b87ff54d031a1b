package grader

import (
	"fmt"
	"strings"

	"github.com/sells-group/autograder/internal/model"
)

// Prompts are kept in one place so the JSON contracts the workers parse
// against stay next to the text that promises them.

const extractQuestionsSystem = `You are an AI assistant that extracts questions from markdown text. Analyze the provided markdown and return a JSON array of questions found, with format:
[
  {
    "question_number": "1",
    "question_text": "..."
  },
  ...
]
Only include actual questions, numbered or unnumbered. No extra text or keys.
Return all question_number values in the format: 1a, 1b, 2a. If there are no subquestions, just return 1, 2, etc. Never return formats like 1.1, 1(1), 1-1, or 1 1; convert them to 1a, 1b, etc.`

func extractQuestionsUser(markdown string) string {
	return fmt.Sprintf(`Please extract all questions from this markdown text:

%s

Return only the JSON array described above.`, markdown)
}

const splitAnswersSystem = `You are a strict JSON formatter. Do not include any markdown or code fences in your response. Do not include any text outside of the JSON. Only output valid JSON in the following format:
[
  {
    "question_number": "1",
    "question_text": "...",
    "answer_text": "..."
  },
  ...
]
Return all question_number values in the format: 1a, 1b, 2a. If there are no subquestions, just return 1, 2, etc. Never return formats like 1.1, 1(1), 1-1, or 1 1; convert them to 1a, 1b, etc.`

func splitAnswersUser(markdown string, questions []model.Question) string {
	var details strings.Builder
	for _, q := range questions {
		fmt.Fprintf(&details, "\nQuestion Number: %s\nQuestion: %s\n-----\n", q.QuestionNumber, q.QuestionText)
	}

	return fmt.Sprintf(`Please extract the student's answer for each question from the submission below.

Submission markdown:
%s

Below are the questions with their details:
%s

Return your answer as valid JSON only, in the format described above.
IMPORTANT: Do not include any additional commentary. Your response MUST be in valid JSON. Provide the answer to each question in the submission, do not cut off your response early.`, markdown, details.String())
}

const formatKeySystem = `You are a strict JSON formatter. Do not include any text outside of the JSON. Only output valid JSON of the form:
[
  {
    "question_number": "1",
    "question_text": "...",
    "points": 10,
    "provided_correct_answer": "..."
  },
  ...
]`

func formatKeyUser(markdown string) string {
	return fmt.Sprintf(`Please extract all questions and their answers from the following markdown text.
Do NOT answer the questions or alter the answers provided. Simply structure the data.
There can be multiple correct answers to every question. If the answer key marks multiple answers as correct (EG: X TRUE T UNCERTAIN), return both answers.
Return the provided explanation as part of the answer.

%s

For each question, also extract the number of points it is worth.

Return your answer as valid JSON only, no code fences.`, markdown)
}

const solveAttemptSystem = `You are an expert problem solver and educator. Please respond in valid JSON format only, with keys 'answer' and 'explanation'. Do NOT include any additional keys or text outside the JSON.`

func solveAttemptUser(q model.Question) string {
	return fmt.Sprintf(`QUESTION:

%s

Please return the result as a valid JSON object with exactly two keys:
"answer" for the concise final answer, and
"explanation" for a step-by-step or conceptual explanation.

Example (generic):
{
  "answer": "answer (correct selection for selection questions, full response for open response)",
  "explanation": "some explanation, if appropriate"
}`, q.QuestionText)
}

const consolidateKeySystem = `You are a specialized AI teacher. You will see multiple different answers to the same question. Your task is to determine which answer is the best, most correct, most complete response to that question, and most faithfully gets at the spirit of the question.`

func consolidateKeyUser(q model.Question, attempts []model.KeyAttempt) string {
	var summary strings.Builder
	for _, a := range attempts {
		fmt.Fprintf(&summary, "Attempt %d:\nAnswer: %s\nExplanation: %s\n\n", a.AttemptNumber, a.Answer, a.Explanation)
	}

	return fmt.Sprintf(`QUESTION TEXT:
%s

BELOW ARE ANSWERS FROM MULTIPLE ATTEMPTS. PICK THE BEST ONE:

%s

Think carefully about deciding on the best answer, and closely consider exactly what the question is asking. You should be faithful to the spirit of the question.
If a question asks for an approximate answer, the exact answer is no better than a good approximation.
As a default, assume the average answer provided is correct, but you may need to adjust this based on the specific question and answers provided.

If the question is an open ended writing prompt, return a small sample of potentially valid answers, concatenated together in one string, titled "Possible responses:"
If the question is a multiple choice question or true false question, and allows for an explanation, allow for some leeway in terms of reasoning as potential correct answers.
Provide the best answer verbatim (or adapt as needed to ensure correctness), along with that answer's explanation or reasoning.

NEVER explicitly reference a provided example answer as part of the answer key.

Return it in the following JSON format only:

{
  "best_answer": "...",
  "best_explanation": "..."
}`, q.QuestionText, summary.String())
}

const formatRubricSystem = `You are a strict JSON formatter. Do not include any text outside of the JSON. Only output valid JSON of the form:
[
  {
    "question_number": "1",
    "points": 10,
    "rubric": "..."
  },
  ...
]`

func formatRubricUser(markdown string, key []model.KeyEntry) string {
	var numbers strings.Builder
	for _, e := range key {
		fmt.Fprintf(&numbers, "- %s (worth %.4g points): %s\n", e.QuestionNumber, e.Points, e.QuestionText)
	}

	return fmt.Sprintf(`Below is a grading rubric document. Split it into one rubric per question.
Do NOT invent criteria or alter the rubric text. Simply structure the data.
If the document contains criteria that apply to every question, repeat them in each question's rubric.

%s

The assignment has these questions:
%s
Return one object per question listed above, using those exact question_number values. Return your answer as valid JSON only, no code fences.`, markdown, numbers.String())
}

const generateRubricSystem = `You are an expert educator and grader. Your task is to create a detailed, fair, comprehensive yet concise grading rubric based on a question and sample student answers.
IMPORTANT: Student responses have been collected using OCR. When considering student responses, assume typos, spelling errors, formatting issues, or contradictory answers are attributable to OCR errors, not the student. OCR struggles to detect strikethroughs, so a student crossing out an answer may not be reflected in the text.
Errors potentially related to OCR should not be part of the rubric. For example, do not penalize a student for failing to underline something, as they could have, and it was not detected.
Do your best to interpret the student's intent, and use that in the creation of your rubric.`

func generateRubricUser(key model.KeyEntry, samples []string) string {
	var formatted strings.Builder
	for i, ans := range samples {
		fmt.Fprintf(&formatted, "SAMPLE ANSWER %d:\n%s\n\n", i+1, ans)
	}

	return fmt.Sprintf(`QUESTION (worth %.4g points):
%s

SAMPLE STUDENT ANSWERS:
%s
SUGGESTED ANSWER: %s

SUGGESTED ANSWER EXPLANATION: %s

Based on the question, these sample answers, and the correct answer/explanation create a detailed but concise rubric that:
1. Breaks down how the %.4g points should be allocated
2. Specifies what earns full credit (+points)
3. Provides clear criteria for partial credit
Your rubric should always only contain these 3 sections.

Important Notes:
- If questions allow for open ended explanation, allow for convincing arguments of an incorrect answer to be awarded full points, unless the answer is factually incorrect. Suggested answers do not always represent the only correct answer.
- If grading a question requires resources that you are incapable of (e.g. following a link, viewing an image, etc.), create a rubric that assigns points for what you can see (e.g. they included a link in their response, you have some text from the image, etc.). In that rubric, you MUST include an indication that the question cannot be fully graded by an AI, and requires human evaluation. When allocating points for these questions, denote which parts can be graded by an AI, and which require human attention.
- IMPORTANT: Only mention human evaluation if there are parts of the answer you cannot grade on a functionality basis (again, that is following a link, viewing an image, etc.). Interpreting student responses is still part of the AI's job.
- Do not create requirements that are not present in the question. For example, if a question does not ask for a specific number of examples, the rubric should not award more (or less) points for a specific number of examples.
- Unless explicitly mentioned in the question (note, plurals as an indication of quantity are not explicit) do not penalize or give credit for quantity. Only focus on quality.

Format your rubric with clear point allocations (e.g., "+2 points for...", "-1 point for...").

Do not grade the answers themselves, only create a rubric. Do not return the question text in the rubric, only the grading criteria. Do not provide any other commentary.`,
		key.Points, key.QuestionText, formatted.String(), key.CorrectAnswer, key.Explanation, key.Points)
}

const validateRubricSystem = `You are an expert educator and grader. Evaluate the following rubric for grading student answers.`

func validateRubricUser(key model.KeyEntry, currentRubric string, samples []string) string {
	var formatted strings.Builder
	for i, ans := range samples {
		fmt.Fprintf(&formatted, "STUDENT ANSWER %d:\n%s\n\n", i+1, ans)
	}

	return fmt.Sprintf(`QUESTION (worth %.4g points):
%s

SUGGESTED ANSWER: %s

SUGGESTED ANSWER EXPLANATION: %s

CURRENT RUBRIC:
%s

STUDENT ANSWERS:
%s
Evaluate whether the current rubric adequately covers the criteria needed to grade all of the above student answers.
If the rubric is adequate, simply respond with the word "adequate".

If it is not adequate, provide an updated rubric that incorporates these student answers while preserving the previously established criteria.
The updated rubric should follow the same structure:
1. Breaks down how the points should be allocated
2. Specifies what earns full credit (+points)
3. Provides clear criteria for partial credit

Important Notes:
- If the rubric mentions requiring human evaluation, that is not an indication that the rubric is inadequate.
- If questions allow for open ended explanation, allow for convincing arguments of an incorrect answer to be awarded full points, unless the answer is factually incorrect.
- Do not create requirements that are not present in the question.
- Only mention human evaluation if it is necessary for grading the question.

Do not call the rubric the "updated rubric" or include any additional commentary. Do not include sample student answers in your response.`,
		key.Points, key.QuestionText, key.CorrectAnswer, key.Explanation, currentRubric, formatted.String())
}

const gradeSystem = `You are an AI grader. You will:
1) Parse the multiple questions and correct answers from the provided answer key.
2) Locate the student's answers in their entire submission.
3) Use the rubric to decide points_awarded. If the rubric is missing, use your discretion on the number of points to award.
4) Consider the answer key as ground truth, and compare the student's answer to it, as opposed to your own evaluation when assessing correctness. Both points_awarded and total_points must be single numbers.
5) If you cannot parse the student's answer (e.g. they circled both true and false for a true/false question, or selected multiple options on a single answer multiple choice), return true for needs_human_eval. Otherwise that field should always be false.
6) Return a structured JSON array in triple backticks, with one object per question:

[
  {
    "question_number": "...",
    "question_text": "...",
    "student_answer": "...",
    "correct_answer": "...",
    "points_awarded": 0,
    "total_points": 0,
    "llm_explanation": "...",
    "needs_human_eval": false
  },
  ...
]
No extra keys, no extra text.`

// gradeKeyMarkdown renders the answer key table as the markdown block the
// grading call sees. It is also the cacheable system text shared by every
// submission in the stage.
func gradeKeyMarkdown(key []model.KeyEntry) string {
	var b strings.Builder
	b.WriteString("# Answer Key\n\n")
	for _, e := range key {
		fmt.Fprintf(&b, "## Question %s (worth %.4g points)\n\n%s\n\n**Correct Answer:** %s\n\n", e.QuestionNumber, e.Points, e.QuestionText, e.CorrectAnswer)
		if e.Explanation != "" {
			fmt.Fprintf(&b, "**Explanation:** %s\n\n", e.Explanation)
		}
	}
	return b.String()
}

// gradeRubricMarkdown renders the rubric table. Returns "" when no rubric
// rows exist so the grading prompt can say "none provided".
func gradeRubricMarkdown(rubric []model.RubricEntry) string {
	if len(rubric) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("# Grading Rubric\n\n")
	for _, e := range rubric {
		fmt.Fprintf(&b, "## Question %s (%.4g points)\n\n%s\n\n", e.QuestionNumber, e.Points, e.Rubric)
	}
	return b.String()
}

func gradeUser(markdown string) string {
	return fmt.Sprintf(`Below is the student's submission (Markdown):

%s

**TASK**:
- Extract each question from the answer key.
- Find the student's corresponding answer within their submission.
- Compare them, awarding points based on the rubric or your best interpretation.
- Return valid JSON, inside triple backticks, with the structure described above.`, markdown)
}

const feedbackSystem = `You are a thoughtful teaching assistant who has been given question-level feedback on a student's submission. Your task is to produce concise, non-repetitive, and helpful overall feedback for the student by summarizing points from each question's grade explanation.

Some of the feedback mentions external links, images, or otherwise indicates a need for human evaluation. If a question or answer depends on any external reference (including links, images, or figures) or is labeled "Extra Credit" without meaningful textual content, completely skip that item. Under no circumstance should you mention, critique, or even acknowledge external links, images, or Extra Credit in your final summary. Similarly, avoid discussing the rubric or grading process.

Please follow these instructions:

1. Combine multi-part questions: if a question has parts (e.g. 1a, 1b), merge all relevant feedback into one concise summary for that question.
2. Skip external references: ignore or remove any feedback about links, figures, or images that require external access or human evaluation.
3. Skip or omit Extra Credit if it has no text-based answer.
4. Focus on clarity and correctness of text-based content only: provide actionable insights for improvement based on the textual answers that can be evaluated.
5. Return your final response as valid JSON enclosed in triple backticks, with exactly one key: "overall_feedback".
6. Do not include any commentary beyond the JSON object.`

func feedbackUser(submissionID string, grades []model.Grade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Submission ID: %s\n\n", submissionID)
	for _, g := range grades {
		fmt.Fprintf(&b, "## Question %s\n\n", g.QuestionNumber)
		fmt.Fprintf(&b, "**Student Answer:**\n\n%s\n\n", g.StudentAnswer)
		fmt.Fprintf(&b, "**Points Awarded:** %.4g / %.4g\n\n", g.PointsAwarded, g.TotalPoints)
		fmt.Fprintf(&b, "**Grade Explanation:**\n\n%s\n\n", g.Explanation)
		if g.NeedsHumanEval {
			b.WriteString("**Note:** This answer requires human evaluation.\n\n")
		}
		b.WriteString("---\n\n")
	}

	return fmt.Sprintf(`Please review the following aggregated feedback and student responses:

%s

Provide your overall feedback:`, b.String())
}
