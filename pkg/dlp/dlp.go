// Package dlp detects, scores and masks India-specific personally identifiable
// identifiers inside a single text field.
//
// A Registry holds one compiled rule per PIIType. The Scanner runs all rules
// over the whole field, scores every candidate with Score and keeps the ones
// meeting the threshold. The Redactor splices Mask replacements into the field
// from the highest offset down and reports a Detection per accepted match.
// Overlapping matches of different types are all kept and logged.
package dlp
