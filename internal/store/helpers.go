package store

import "strconv"

// countedTables are the tables reported by TableCounts, in display order.
var countedTables = []string{
	"financial_datapoints",
	"datapoint_sources",
	"derived_metrics",
	"live_questions",
	"question_logs",
	"metric_weights",
}

func formatPos(p *int) any {
	if p == nil {
		return nil
	}
	return strconv.Itoa(*p)
}

func formatPosInt(p int) string {
	return strconv.Itoa(p)
}

func rankNote(oldPos *int, newPos int) string {
	old := "none"
	if oldPos != nil {
		old = strconv.Itoa(*oldPos)
	}
	return "Rank position updated from " + old + " to " + strconv.Itoa(newPos)
}
