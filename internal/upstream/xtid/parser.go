package xtid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	indicesRegex = regexp.MustCompile(`\(\w{1}\[(\d{1,2})\],\s*16\)`)
	verifyRegex1 = regexp.MustCompile(`<meta[^>]+name=["']site-verification["'][^>]+content=["']([^"']+)["']`)
	verifyRegex2 = regexp.MustCompile(`<meta[^>]+content=["']([^"']+)["'][^>]+name=["']site-verification["']`)
)

func getVerificationKey(html string) string {
	if m := verifyRegex1.FindStringSubmatch(html); len(m) > 1 {
		return m[1]
	}
	if m := verifyRegex2.FindStringSubmatch(html); len(m) > 1 {
		return m[1]
	}
	return ""
}

// getOnDemandFileURL looks for a quoted "ondemand.s":"<hash>" style
// reference in the home page and formats it against tpl (which must
// contain exactly one %s).
func getOnDemandFileURL(html, tpl string) string {
	re := regexp.MustCompile(`['"]ondemand\.s['"]:\s*['"]([\w]*)['"]`)
	m := re.FindStringSubmatch(html)
	if len(m) <= 1 {
		return ""
	}
	return fmt.Sprintf(tpl, m[1])
}

func getKeyIndices(js string) (int, []int) {
	matches := indicesRegex.FindAllStringSubmatch(js, -1)
	if len(matches) == 0 {
		return 0, nil
	}
	indices := make([]int, 0, len(matches))
	for _, match := range matches {
		if len(match) > 1 {
			if idx, err := strconv.Atoi(match[1]); err == nil {
				indices = append(indices, idx)
			}
		}
	}
	if len(indices) == 0 {
		return 0, nil
	}
	return indices[0], indices[1:]
}

type svgFrame struct {
	id   int
	data [][]int
}

func getSVGFrames(html string) []svgFrame {
	frames := make([]svgFrame, 4)
	for i := 0; i < 4; i++ {
		pattern := regexp.MustCompile(`<svg[^>]*id=["']loading-x-anim-` + strconv.Itoa(i) + `["'][^>]*>[\s\S]*?</svg>`)
		svgMatch := pattern.FindString(html)
		if svgMatch == "" {
			continue
		}
		pathPattern := regexp.MustCompile(`<path[^>]*d=["']([^"']+)["'][^>]*fill=["']#1d9bf008["']`)
		pathMatch := pathPattern.FindStringSubmatch(svgMatch)
		if len(pathMatch) < 2 {
			pathPattern2 := regexp.MustCompile(`<path[^>]*fill=["']#1d9bf008["'][^>]*d=["']([^"']+)["']`)
			pathMatch = pathPattern2.FindStringSubmatch(svgMatch)
			if len(pathMatch) < 2 {
				continue
			}
		}
		frames[i] = svgFrame{id: i, data: parsePathData(pathMatch[1])}
	}
	return frames
}

func parsePathData(pathData string) [][]int {
	parts := strings.Split(pathData, "C")
	result := make([][]int, 0, len(parts))
	numRe := regexp.MustCompile(`-?\d+`)
	for idx, part := range parts {
		if idx == 0 {
			continue
		}
		nums := numRe.FindAllString(part, -1)
		if len(nums) == 0 {
			continue
		}
		row := make([]int, 0, len(nums))
		for _, n := range nums {
			if val, err := strconv.Atoi(n); err == nil {
				row = append(row, val)
			}
		}
		if len(row) > 0 {
			result = append(result, row)
		}
	}
	return result
}
