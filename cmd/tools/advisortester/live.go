package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/global-compliance/backend/internal/audio"
	"github.com/zhouzirui/global-compliance/backend/internal/config"
	advisormodel "github.com/zhouzirui/global-compliance/backend/internal/model/advisor"
	"github.com/zhouzirui/global-compliance/backend/internal/service/advisor"
	"github.com/zhouzirui/global-compliance/backend/internal/service/live"
)

func liveCmd() *cobra.Command {
	var (
		wavPath string
		outPath string
		linger  time.Duration
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Stream a 16kHz WAV file to the live advisor and record the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("配置加载失败: %w", err)
			}
			if !cfg.Live.Enabled() {
				return fmt.Errorf("实时语音未启用，请配置 API_KEY 或 LIVE_API_KEY")
			}

			f, err := os.Open(wavPath)
			if err != nil {
				return err
			}
			input, err := audio.ReadWAV(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("读取 %s 失败: %w", wavPath, err)
			}
			if input.SampleRate != audio.CaptureSampleRate {
				return fmt.Errorf("%s is %d Hz; the advisor expects %d Hz input", wavPath, input.SampleRate, audio.CaptureSampleRate)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			devices := newFileDevices(input.Mono())
			turnDone := make(chan struct{}, 1)
			var printMu sync.Mutex

			manager := advisor.NewManager(advisor.Options{
				Devices: devices,
				Dialer: live.NewClient(live.Config{
					APIKey:           cfg.Live.APIKey,
					URL:              cfg.Live.URL,
					Model:            cfg.Live.Model,
					HandshakeTimeout: cfg.Live.HandshakeTimeout.Duration,
				}),
				Config: advisormodel.SessionConfig{
					Model:             cfg.Live.Model,
					Voice:             cfg.Live.Voice,
					SystemInstruction: cfg.Live.SystemInstruction,
				},
				Listener: func(ev advisor.Event) {
					printMu.Lock()
					defer printMu.Unlock()
					switch ev.Kind {
					case advisor.EventState:
						fmt.Fprintf(os.Stderr, "[state] %s\n", ev.State)
						if ev.State == advisormodel.StateOpen {
							devices.markOpen()
						}
					case advisor.EventTranscript:
						if ev.Entry.Final {
							fmt.Printf("%-8s %s\n", ev.Entry.Speaker+":", ev.Entry.Text)
							if ev.Entry.Speaker == advisormodel.SpeakerAdvisor {
								select {
								case turnDone <- struct{}{}:
								default:
								}
							}
						}
					case advisor.EventError:
						fmt.Fprintf(os.Stderr, "[error] %v\n", ev.Err)
					}
				},
			})

			session, err := manager.Start(ctx)
			if err != nil {
				return err
			}

			// 输入播放完毕后再等待一段时间接收回复
			select {
			case <-ctx.Done():
			case <-session.Done():
			case <-devices.finished():
				waitReply(ctx, session, turnDone, linger)
			}

			if err := manager.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "[warn] teardown: %v\n", err)
			}
			fmt.Fprintf(os.Stderr, "frames dropped: %d\n", session.Dropped())

			if outPath != "" {
				samples := devices.recording()
				if err := os.WriteFile(outPath, audio.EncodeWAV(samples, audio.PlaybackSampleRate, 1), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "reply written to %s (%.1fs)\n", outPath, float64(len(samples))/audio.PlaybackSampleRate)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&wavPath, "wav", "", "输入 WAV 文件 (16-bit PCM, 16kHz)")
	cmd.Flags().StringVar(&outPath, "out", "", "回复音频输出路径 (WAV, 24kHz)")
	cmd.Flags().DurationVar(&linger, "linger", 8*time.Second, "输入结束后等待回复的时长")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "整个会话的超时时间")
	_ = cmd.MarkFlagRequired("wav")
	return cmd
}

func waitReply(ctx context.Context, session *advisor.Session, turnDone <-chan struct{}, linger time.Duration) {
	deadline := time.NewTimer(linger)
	defer deadline.Stop()
	select {
	case <-ctx.Done():
	case <-session.Done():
	case <-deadline.C:
	case <-turnDone:
		// 给最后一段音频留出播放时间
		time.Sleep(500 * time.Millisecond)
	}
}
