package model

import "fmt"

// Stats counts the alternatives a rule lost in each compiler phase.
type Stats struct {
	RuleParsingFailure          int `json:"ruleParsingFailure"`
	RuleWithoutPattern          int `json:"ruleWithoutPattern"`
	MetavarResolvingFailure     int `json:"metaVarResolvingFailure"`
	ActionListConversionFailure int `json:"actionListConversionFailure"`
	EmptyAutomata               int `json:"emptyAutomata"`
}

// IsFailure reports whether any alternative was lost.
func (s Stats) IsFailure() bool {
	return s.RuleParsingFailure+s.RuleWithoutPattern+s.MetavarResolvingFailure+
		s.ActionListConversionFailure+s.EmptyAutomata > 0
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.RuleParsingFailure += other.RuleParsingFailure
	s.RuleWithoutPattern += other.RuleWithoutPattern
	s.MetavarResolvingFailure += other.MetavarResolvingFailure
	s.ActionListConversionFailure += other.ActionListConversionFailure
	s.EmptyAutomata += other.EmptyAutomata
}

func (s Stats) String() string {
	return fmt.Sprintf("Stats(ruleParsingFailure=%d, ruleWithoutPattern=%d, metaVarResolvingFailure=%d, "+
		"actionListConversionFailure=%d, emptyAutomata=%d)",
		s.RuleParsingFailure, s.RuleWithoutPattern, s.MetavarResolvingFailure,
		s.ActionListConversionFailure, s.EmptyAutomata)
}

// RuleOutcome is everything the compiler produced for one rule.
type RuleOutcome struct {
	RuleSet     string
	Config      TaintConfig
	Diagnostics RuleDiagnostics
	Stats       Stats
}

// Compiled reports whether the rule contributed analyzer rules.
func (o RuleOutcome) Compiled() bool {
	return o.Config.Len() > 0
}

// CompileSummary aggregates the outcomes of one compile run.
type CompileSummary struct {
	Session    string
	Files      int
	Rules      int
	Compiled   int
	Skipped    int
	TaintRules int
	Errors     int
	Warnings   int
	Stats      Stats
}
