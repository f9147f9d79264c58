package main

import (
	"flag"
	"log"
	"os"

	"github.com/wbrown/gpt_jsonl"
	"github.com/wbrown/gpt_jsonl/resources"
)

// fetch resolves tokenizerId into destPath and checks that the files build
// a working decoder.
func fetch(tokenizerId, destPath, auth string) (int, error) {
	rsrcs, err := resources.ResolveResources(tokenizerId, destPath, auth)
	if err != nil {
		return 0, err
	}
	defer rsrcs.Cleanup()
	decoder, err := gpt_jsonl.NewDecoderFromResources(*rsrcs,
		gpt_jsonl.DecoderOptions{})
	if err != nil {
		return 0, err
	}
	return decoder.VocabSize(), nil
}

func main() {
	tokenizerId := flag.String("tokenizer", gpt_jsonl.DefaultTokenizer,
		"tokenizer URL, path, or huggingface id to fetch")
	destPath := flag.String("dest", "./",
		"where to download the tokenizer to")
	flag.Parse()
	if *tokenizerId == "" {
		flag.Usage()
		log.Fatal("Must provide -tokenizer")
	}

	vocabSize, err := fetch(*tokenizerId, *destPath, os.Getenv("HF_API_TOKEN"))
	if err != nil {
		log.Fatalf("Error downloading tokenizer resources: %s", err)
	}
	log.Printf("Fetched %s into %s, %d tokens.", *tokenizerId, *destPath,
		vocabSize)
}
