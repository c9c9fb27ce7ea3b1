package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"archiviz-render-server/modules/common/config"
	"archiviz-render-server/modules/common/database"
	"archiviz-render-server/modules/common/utils"
)

type Client struct {
	dbClient *database.Client
}

// NewClient - create the storage client
func NewClient(dbClient *database.Client) *Client {
	return &Client{dbClient: dbClient}
}

// DownloadImage - fetch image bytes for an attach id from Supabase Storage
func (c *Client) DownloadImage(attachID int) ([]byte, error) {
	cfg := config.GetConfig()

	attach, err := c.dbClient.FetchAttachInfo(attachID)
	if err != nil {
		return nil, err
	}

	// attach_file_path preferred, attach_directory as fallback
	var filePath string
	if attach.AttachFilePath != nil && *attach.AttachFilePath != "" {
		filePath = *attach.AttachFilePath
	} else if attach.AttachDirectory != nil && *attach.AttachDirectory != "" {
		filePath = *attach.AttachDirectory
	} else {
		return nil, fmt.Errorf("no file path found for attach_id: %d", attachID)
	}

	fullURL := cfg.SupabaseStorageBaseURL + filePath
	log.Printf("📥 Downloading image from: %s", fullURL)

	httpResp, err := http.Get(fullURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("failed to download image: status %d, body: %s", httpResp.StatusCode, string(body))
	}

	imageData, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	log.Printf("✅ Image downloaded: %d bytes", len(imageData))
	return imageData, nil
}

// UploadGeneratedImage - convert PNG output to WebP and upload it.
// Returns the storage path and the new attach id.
func (c *Client) UploadGeneratedImage(ctx context.Context, pngData []byte, userID string) (string, int, error) {
	cfg := config.GetConfig()

	webpData, err := utils.ConvertPNGToWebP(pngData, 90.0)
	if err != nil {
		return "", 0, fmt.Errorf("failed to convert PNG to WebP: %w", err)
	}

	timestamp := time.Now().UnixNano() / int64(time.Millisecond)
	randomID := rand.Intn(999999)
	fileName := fmt.Sprintf("render_%d_%d.webp", timestamp, randomID)
	filePath := fmt.Sprintf("generated-renders/user-%s/%s", userID, fileName)

	log.Printf("📤 Uploading WebP image to storage: %s", filePath)

	uploadURL := fmt.Sprintf("%s/storage/v1/object/attachments/%s", cfg.SupabaseURL, filePath)

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, bytes.NewReader(webpData))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+cfg.SupabaseServiceKey)
	req.Header.Set("Content-Type", "image/webp")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	attachID, err := c.dbClient.CreateAttachRecord(ctx, filePath, int64(len(webpData)))
	if err != nil {
		return "", 0, err
	}

	log.Printf("✅ WebP image uploaded: %s (%d bytes, attach=%d)", filePath, len(webpData), attachID)
	return filePath, attachID, nil
}
