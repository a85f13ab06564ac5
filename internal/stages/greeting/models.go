// internal/stages/greeting/models.go
package greeting

import "insight-pipeline/internal/models"

// Greeting types the stage can detect.
const (
	TypeGreeting  = "greeting"
	TypeClosing   = "closing"
	TypeThanks    = "thanks"
	TypeSmalltalk = "smalltalk"
	TypeNone      = "none"
)

type Input struct {
	Query *models.Query `json:"query"`
}

// Output carries the detection verdict. IsGreeting=true short-circuits the
// pipeline with Response as the final content.
type Output struct {
	IsGreeting   bool   `json:"isGreeting"`
	GreetingType string `json:"greetingType"`
	Response     string `json:"response,omitempty"`
	TokensUsed   int    `json:"tokensUsed"`
}
