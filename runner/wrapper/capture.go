package wrapper

import (
	"bufio"
	"io"
	"log"
	"regexp"

	"github.com/Intuity/Gator/common/logging"
)

/**
Classifier re-tags captured output lines by regex before they are persisted.
Rules are evaluated in the order they were added; the first match wins and
lines matching nothing keep the stream's default severity.
*/
type Classifier struct {
	rules []classifierRule
}

type classifierRule struct {
	pattern  *regexp.Regexp
	severity logging.Severity
}

func (c *Classifier) AddRule(pattern string, severity logging.Severity) error {
	compiled, compileErr := regexp.Compile(pattern)
	if compileErr != nil {
		return compileErr
	}
	c.rules = append(c.rules, classifierRule{pattern: compiled, severity: severity})
	return nil
}

func (c *Classifier) Classify(line string, fallback logging.Severity) logging.Severity {
	if c != nil {
		for _, rule := range c.rules {
			if rule.pattern.MatchString(line) {
				return rule.severity
			}
		}
	}
	return fallback
}

/**
read line-by-line from src until EOF and push each result as a string pointer
to the output channel. on completion, a nil is pushed to the output channel.
a partial final line with no trailing newline is still delivered.
*/
func asyncLineReader(src io.Reader, bufferSize int) chan *string {
	scanner := bufio.NewScanner(src)
	scanner.Split(bufio.ScanLines)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	outputChan := make(chan *string, bufferSize)

	go func() {
		for scanner.Scan() {
			line := scanner.Text()
			outputChan <- &line
		}
		scanErr := scanner.Err()
		if scanErr != nil {
			log.Printf("ERROR: could not read stream: %s", scanErr)
		}
		outputChan <- nil
	}()

	return outputChan
}

/**
drain one of the child's output streams, classifying and logging every line.
stdout defaults to INFO and stderr to ERROR; empty lines are dropped to match
the log pipeline's expectations.
*/
func captureStream(src io.Reader, fallback logging.Severity, classifier *Classifier, logger *logging.Logger) {
	lines := asyncLineReader(src, 100)
	for {
		line := <-lines
		if line == nil {
			return
		}
		if *line == "" {
			continue
		}
		logger.Log(classifier.Classify(*line, fallback), *line)
	}
}
