package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/global-compliance/backend/internal/share"
)

func shareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Encode or decode report share tokens",
	}
	cmd.AddCommand(shareEncodeCmd(), shareDecodeCmd())
	return cmd
}

func shareEncodeCmd() *cobra.Command {
	var reportPath, imagePath, baseURL string

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Build a share token from a report JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(reportPath)
			if err != nil {
				return err
			}
			if !json.Valid(raw) {
				return fmt.Errorf("%s is not valid JSON", reportPath)
			}

			var image string
			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return err
				}
				image = strings.TrimSpace(string(data))
			}

			codec := share.NewCodec()
			token, err := codec.Encode(json.RawMessage(raw), image)
			if err != nil {
				return err
			}
			if image != "" && len(image) >= codec.MaxImageBytes {
				fmt.Fprintf(os.Stderr, "image is %d bytes, omitted from the link\n", len(image))
			}

			if baseURL == "" {
				fmt.Println(token)
				return nil
			}
			link, err := share.Link(baseURL, token)
			if err != nil {
				return err
			}
			fmt.Println(link)
			return nil
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "报告 JSON 文件")
	cmd.Flags().StringVar(&imagePath, "image", "", "包含图片 data URL 的文本文件")
	cmd.Flags().StringVar(&baseURL, "base", "", "前端页面地址，提供时输出完整链接")
	_ = cmd.MarkFlagRequired("report")
	return cmd
}

func shareDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token|link>",
		Short: "Print the payload of a share token or link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			if i := strings.Index(token, "#"); i >= 0 {
				t, ok := share.TokenFromFragment(token[i:])
				if !ok {
					return errors.New("link has no report fragment")
				}
				token = t
			}

			codec := share.NewCodec()
			payload, err := codec.Decode(token)
			if err != nil {
				return err
			}
			if codec.IsExpired(payload.Timestamp, codec.Now()) {
				fmt.Fprintf(os.Stderr, "warning: link created %s has expired\n", payload.CreatedAt().Format("2006-01-02 15:04"))
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, payload.Data, "", "  "); err != nil {
				return err
			}
			fmt.Println(pretty.String())
			if payload.Image != "" {
				fmt.Fprintf(os.Stderr, "image: %d bytes\n", len(payload.Image))
			}
			return nil
		},
	}
}
