package extract

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	errAbsent = errors.New("no matching element")
	errShape  = errors.New("value does not match expected shape")
)

var (
	stockPattern = regexp.MustCompile(`^In stock \((\d+) available\)$`)
	jpgPattern   = regexp.MustCompile(`\.jpg`)
)

var ratingWords = map[string]int{
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// converter shapes one fragment into its final value.
type converter func(p *Pipeline, spec FieldSpec, frag Fragment) (any, error)

var converters = map[Kind]converter{
	KindURL:      convertText,
	KindText:     convertText,
	KindInteger:  convertInteger,
	KindRating:   convertRating,
	KindStock:    convertStock,
	KindImageURL: convertImageURL,
}

// Normalize shapes every configured field. It never fails: unresolved or
// malformed values are replaced by Sentinel and logged as warnings.
func (p *Pipeline) Normalize(raw RawRecord) Record {
	rec := newRecord(len(p.schema.Fields))
	for _, spec := range p.schema.Fields {
		frag, ok := raw.Fragments[spec.Name]
		if !ok {
			frag = Fragment{}
		}
		value, err := converters[spec.Kind](p, spec, frag)
		if err != nil {
			p.logger.Warn("field shaping failed",
				zap.String("field", spec.Name),
				zap.String("kind", string(spec.Kind)),
				zap.String("url", raw.URL),
				zap.Error(err),
			)
			value = Sentinel
		}
		rec.set(spec.Name, value)
	}
	return rec
}

func rawText(spec FieldSpec, frag Fragment) (string, error) {
	if !frag.Found {
		return "", errAbsent
	}
	if frag.Literal != "" {
		return strings.TrimSpace(frag.Literal), nil
	}
	var v string
	if spec.Attr != "" {
		attr, ok := frag.Node.Attr(spec.Attr)
		if !ok {
			return "", fmt.Errorf("%w: attribute %q missing", errAbsent, spec.Attr)
		}
		v = attr
	} else {
		v = frag.Node.Text()
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: empty value", errAbsent)
	}
	return v, nil
}

func convertText(_ *Pipeline, spec FieldSpec, frag Fragment) (any, error) {
	return rawText(spec, frag)
}

func convertInteger(_ *Pipeline, spec FieldSpec, frag Fragment) (any, error) {
	v, err := rawText(spec, frag)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", errShape, v)
	}
	return n, nil
}

// convertRating maps the word-numeral class token, e.g. "star-rating Three".
func convertRating(_ *Pipeline, _ FieldSpec, frag Fragment) (any, error) {
	if !frag.Found {
		return nil, errAbsent
	}
	classes := frag.Node.Classes()
	token := ""
	for i, c := range classes {
		if c == "star-rating" && i+1 < len(classes) {
			token = classes[i+1]
			break
		}
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no rating class in %v", errShape, classes)
	}
	n, ok := ratingWords[token]
	if !ok {
		return nil, fmt.Errorf("%w: unknown rating %q", errShape, token)
	}
	return n, nil
}

func convertStock(_ *Pipeline, spec FieldSpec, frag Fragment) (any, error) {
	v, err := rawText(spec, frag)
	if err != nil {
		return nil, err
	}
	m := stockPattern.FindStringSubmatch(v)
	if m == nil {
		return nil, fmt.Errorf("%w: stock %q", errShape, v)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("%w: stock count %q", errShape, m[1])
	}
	return n, nil
}

func convertImageURL(p *Pipeline, spec FieldSpec, frag Fragment) (any, error) {
	v, err := rawText(spec, frag)
	if err != nil {
		return nil, err
	}
	if !jpgPattern.MatchString(v) {
		return nil, fmt.Errorf("%w: %q is not a jpg reference", errShape, v)
	}
	ref, err := url.Parse(strings.ReplaceAll(v, "../", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errShape, err)
	}
	return p.base.ResolveReference(ref).String(), nil
}
