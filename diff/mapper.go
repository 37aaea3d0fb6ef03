package diff

import (
	"strings"
	"unicode"

	"github.com/shipitai/reviewbot/vcs"
)

const (
	// DefaultMaxDistance is how far, in lines, a comment may be moved to the
	// nearest added line.
	DefaultMaxDistance = 5
	// DefaultKeywordCount is how many comment keywords content matching uses.
	DefaultKeywordCount = 3
)

// DefaultStopWords are ignored when extracting comment keywords.
var DefaultStopWords = []string{"the", "and", "or", "but", "for", "with", "this", "that"}

// MatchOptions tunes how unmappable comment lines are corrected.
type MatchOptions struct {
	EnableSmartMatching   bool     `yaml:"enable_smart_matching"`
	EnableContentMatching bool     `yaml:"enable_content_matching"`
	MaxDistance           int      `yaml:"max_distance"`
	KeywordCount          int      `yaml:"keyword_count"`
	StopWords             []string `yaml:"stop_words"`
}

// DefaultMatchOptions enables both heuristics with the default thresholds.
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		EnableSmartMatching:   true,
		EnableContentMatching: true,
		MaxDistance:           DefaultMaxDistance,
		KeywordCount:          DefaultKeywordCount,
		StopWords:             DefaultStopWords,
	}
}

func (o MatchOptions) normalized() MatchOptions {
	if o.MaxDistance < 0 {
		o.MaxDistance = DefaultMaxDistance
	}
	if o.KeywordCount <= 0 {
		o.KeywordCount = DefaultKeywordCount
	}
	if o.StopWords == nil {
		o.StopWords = DefaultStopWords
	}
	return o
}

// MappingResult is the outcome of reconciling one proposed comment line.
type MappingResult struct {
	OriginalLine int
	ActualLine   int
	IsValid      bool
}

func passThrough(line int) MappingResult {
	return MappingResult{OriginalLine: line, ActualLine: line}
}

// MapDiffLineToActualLine resolves line against the first parsed line of fc
// carrying that number. Additions and context lines are accepted as-is;
// deletions and unknown numbers are rejected.
func MapDiffLineToActualLine(fc vcs.FileChange, line int) MappingResult {
	for l := range Lines(fc) {
		if l.NoNewline || l.LineNumber != line {
			continue
		}
		if l.IsDeletion {
			return passThrough(line)
		}
		return MappingResult{OriginalLine: line, ActualLine: line, IsValid: true}
	}
	return passThrough(line)
}

// FindNearestValidLine moves target to the closest added line, provided it is
// at most maxDistance lines away. Ties go to the line parsed first.
func FindNearestValidLine(fc vcs.FileChange, target, maxDistance int) MappingResult {
	best, bestDistance := 0, -1

	for l := range additions(fc) {
		d := abs(l.LineNumber - target)
		if bestDistance < 0 || d < bestDistance {
			best, bestDistance = l.LineNumber, d
		}
	}

	if bestDistance < 0 || bestDistance > maxDistance {
		return passThrough(target)
	}
	return MappingResult{OriginalLine: target, ActualLine: best, IsValid: true}
}

// FindLineByContent places the comment on the first added line containing one
// of its keywords, falling back to FindNearestValidLine.
func FindLineByContent(fc vcs.FileChange, comment string, target int, opts MatchOptions) MappingResult {
	opts = opts.normalized()

	keywords := ExtractKeywords(comment, opts.KeywordCount, opts.StopWords)
	if len(keywords) > 0 {
		for l := range additions(fc) {
			content := strings.ToLower(l.Content)
			for _, kw := range keywords {
				if strings.Contains(content, kw) {
					return MappingResult{OriginalLine: target, ActualLine: l.LineNumber, IsValid: true}
				}
			}
		}
	}

	return FindNearestValidLine(fc, target, opts.MaxDistance)
}

// ExtractKeywords lower-cases comment, strips punctuation and returns up to
// limit distinct words longer than two characters that are not stop words.
func ExtractKeywords(comment string, limit int, stopWords []string) []string {
	stop := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		stop[strings.ToLower(w)] = struct{}{}
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.ToLower(comment))

	var keywords []string
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) <= 2 {
			continue
		}
		if _, ok := stop[word]; ok {
			continue
		}
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
		if len(keywords) == limit {
			break
		}
	}

	return keywords
}

// CorrectedComment is a line comment whose Line has been reconciled with the
// new file.
type CorrectedComment struct {
	vcs.LineComment
	OriginalLine int
	Corrected    bool
}

// ValidateAndCorrectLineNumbers reconciles every proposed comment against the
// matching file change. Comments that cannot be placed on an addressable
// line, or that name a file outside files, are dropped.
func ValidateAndCorrectLineNumbers(comments []vcs.LineComment, files []vcs.FileChange, opts MatchOptions) []CorrectedComment {
	opts = opts.normalized()

	byName := make(map[string]vcs.FileChange, len(files))
	for _, f := range files {
		if _, ok := byName[f.Filename]; !ok {
			byName[f.Filename] = f
		}
	}

	var result []CorrectedComment
	for _, c := range comments {
		fc, ok := byName[c.File]
		if !ok {
			continue
		}

		mapping := MapDiffLineToActualLine(fc, c.Line)
		if !mapping.IsValid && opts.EnableSmartMatching {
			if opts.EnableContentMatching {
				mapping = FindLineByContent(fc, c.Comment, c.Line, opts)
			}
			if !mapping.IsValid {
				mapping = FindNearestValidLine(fc, c.Line, opts.MaxDistance)
			}
		}
		if !mapping.IsValid {
			continue
		}

		corrected := c
		corrected.Line = mapping.ActualLine
		result = append(result, CorrectedComment{
			LineComment:  corrected,
			OriginalLine: mapping.OriginalLine,
			Corrected:    mapping.ActualLine != mapping.OriginalLine,
		})
	}

	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
