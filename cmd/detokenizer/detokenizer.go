package main

import (
	"bufio"
	"flag"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/wbrown/gpt_jsonl"
	"github.com/wbrown/gpt_jsonl/corpus"
)

// detokenize writes documents [start, end) of ds to w, each followed by
// separator.
func detokenize(ds *corpus.IndexedDataset, decoder *gpt_jsonl.GPTDecoder,
	start, end int, separator string, w io.Writer) error {
	out := bufio.NewWriter(w)
	const chunk = 1024
	for lo := start; lo < end; lo += chunk {
		hi := lo + chunk
		if hi > end {
			hi = end
		}
		window, err := ds.Window(lo, hi)
		if err != nil {
			return err
		}
		for idx, tokens := range window {
			text, decodeErr := decoder.Decode(tokens)
			if decodeErr != nil {
				return &decodeFailure{doc: lo + idx, err: decodeErr}
			}
			if _, err := out.WriteString(text + separator); err != nil {
				return err
			}
		}
	}
	return out.Flush()
}

type decodeFailure struct {
	doc int
	err error
}

func (e *decodeFailure) Error() string {
	return "document " + strconv.Itoa(e.doc) + ": " + e.err.Error()
}

func (e *decodeFailure) Unwrap() error { return e.err }

func main() {
	inputTokenizerId := flag.String("input_tokenizer",
		gpt_jsonl.DefaultTokenizer,
		"tokenizer directory, URL or huggingface id")
	inputPrefix := flag.String("input", "",
		"indexed dataset prefix to detokenize, without .bin/.idx")
	outputFile := flag.String("output", "detokenized.txt",
		"output file to write detokenized text, - for stdout")
	start := flag.Int("start", 0, "first document")
	end := flag.Int("end", -1, "document to stop before, -1 for all")
	separator := flag.String("separator", "\n",
		"written after every document")
	flag.Parse()

	if *inputPrefix == "" {
		flag.Usage()
		log.Fatal("Must provide -input")
	}
	if *inputTokenizerId == "" {
		flag.Usage()
		log.Fatal("Must provide -input_tokenizer")
	}

	ds, err := corpus.Open(*inputPrefix)
	if err != nil {
		log.Fatal(err)
	}
	defer ds.Close()
	if *end < 0 {
		*end = ds.Len()
	}

	decoder, err := gpt_jsonl.NewDecoder(*inputTokenizerId)
	if err != nil {
		log.Fatal(err)
	}

	var w io.Writer = os.Stdout
	if *outputFile != "-" {
		outputFileHandle, err := os.Create(*outputFile)
		if err != nil {
			log.Fatal(err)
		}
		defer outputFileHandle.Close()
		w = outputFileHandle
	}
	if err := detokenize(ds, decoder, *start, *end, *separator,
		w); err != nil {
		log.Fatal(err)
	}
}
