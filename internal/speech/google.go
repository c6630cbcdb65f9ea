package speech

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/Evman90/SoundBoard/internal/errors"
)

const resultBufferLen = 32

// Google recognizes speech through the Cloud Speech streaming API.
type Google struct {
	client *speech.Client
	cfg    Config
}

// NewGoogle creates the client. Credentials resolve from the configured
// file, falling back to application default credentials.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "creating speech client")
	}
	return &Google{client: client, cfg: cfg}, nil
}

// Open starts one streaming recognition and its receive loop.
func (g *Google) Open(ctx context.Context) (Stream, error) {
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, errors.FromGRPC(err)
	}
	if err := stream.Send(configRequest(g.cfg)); err != nil {
		return nil, errors.FromGRPC(err)
	}

	s := &googleStream{
		stream:  stream,
		results: make(chan Result, resultBufferLen),
	}
	go s.recvLoop()
	return s, nil
}

// Close releases the underlying client connection.
func (g *Google) Close() error {
	return g.client.Close()
}

// configRequest builds the initial streaming request. Interim results feed
// the live transcript; the silence timeout lets the server end idle streams
// so the supervisor can cycle them.
func configRequest(cfg Config) *speechpb.StreamingRecognizeRequest {
	streamCfg := &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(cfg.SampleRate),
			LanguageCode:      cfg.Language,
			AudioChannelCount: 1,
		},
		InterimResults: true,
	}
	if cfg.SilenceTimeout > 0 {
		streamCfg.EnableVoiceActivityEvents = true
		streamCfg.VoiceActivityTimeout = &speechpb.StreamingRecognitionConfig_VoiceActivityTimeout{
			SpeechStartTimeout: durationpb.New(cfg.SilenceTimeout),
			SpeechEndTimeout:   durationpb.New(cfg.SilenceTimeout),
		}
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: streamCfg,
		},
	}
}

type googleStream struct {
	stream  speechpb.Speech_StreamingRecognizeClient
	results chan Result

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *googleStream) Results() <-chan Result { return s.results }

func (s *googleStream) Send(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New(errors.CodeAborted, "stream closed for sending")
	}

	err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: pcm},
	})
	if err != nil {
		return errors.FromGRPC(err)
	}
	return nil
}

func (s *googleStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *googleStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.stream.CloseSend()
}

// recvLoop receives responses until the stream ends, then closes Results.
func (s *googleStream) recvLoop() {
	defer close(s.results)

	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return
			}
			s.mu.Lock()
			s.err = errors.FromGRPC(err)
			s.mu.Unlock()
			return
		}
		s.handleResponse(resp)
	}
}

// handleResponse pushes transcript results in arrival order. Blank
// transcripts are skipped; blocking sends preserve finals.
func (s *googleStream) handleResponse(resp *speechpb.StreamingRecognizeResponse) {
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		s.results <- Result{Text: text, Final: result.GetIsFinal()}
	}
}
