package mirror

import (
	"bufio"
	"io"
	"os"
	"strings"

	"kafmirror/internal/logging"
)

// TopicMap routes source topics to destination topics. It is built once at
// startup and never mutated; a missing entry maps a topic to itself.
type TopicMap struct {
	m map[string]string
}

// LoadTopicMap reads a mapping file: one `<source-topic> <dest-topic>` pair
// per line. Blank lines and `#` comments are ignored; lines that do not
// split into exactly two fields are logged and skipped. An empty path yields
// the identity map.
func LoadTopicMap(path string) (*TopicMap, error) {
	if path == "" {
		return &TopicMap{m: map[string]string{}}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseTopicMap(f), nil
}

func ParseTopicMap(r io.Reader) *TopicMap {
	m := make(map[string]string)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			logging.L().Error("topicmap: malformed line, skipping", "line", line, "text", text)
			continue
		}
		m[fields[0]] = fields[1]
	}
	return &TopicMap{m: m}
}

func (t *TopicMap) Lookup(topic string) string {
	if dest, ok := t.m[topic]; ok {
		return dest
	}
	return topic
}

func (t *TopicMap) Len() int { return len(t.m) }
