package pipeline

import "errors"

var (
	// ErrUnsupportedFormat reports a document whose format the pipeline cannot handle.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrConversionFailed reports a document that could not be rasterized into pages.
	ErrConversionFailed = errors.New("conversion failed")
	// ErrRecognitionFailed reports a page that could not be recognized.
	ErrRecognitionFailed = errors.New("recognition failed")
	// ErrAlreadyProcessing reports a call made while the pipeline is running another document.
	ErrAlreadyProcessing = errors.New("pipeline already processing a document")
)
