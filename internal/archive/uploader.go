package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/n0needt0/go-goodies/log"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/services"
)

// Uploader ships rotated .gz archives to S3-compatible storage. It is the
// single consumer of the rotation notify channel. Shipping is best effort: an
// upload failure is counted and logged, the local archive stays where it is.
type Uploader struct {
	services   *services.Services
	config     *config.Config
	quit       chan bool
	wg         sync.WaitGroup
	notifyChan <-chan string
	started    bool
}

func NewUploader(services *services.Services, config *config.Config, notifyChan <-chan string) *Uploader {
	return &Uploader{
		services:   services,
		config:     config,
		quit:       make(chan bool),
		notifyChan: notifyChan,
	}
}

func (u *Uploader) Start() error {
	if !u.config.S3.Enabled {
		log.Info("Archive uploader is disabled")
		return nil
	}

	s3Client, err := minio.New(u.config.S3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(u.config.S3.AccessKey, u.config.S3.SecretKey, ""),
		Secure: u.config.S3.Ssl,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	u.started = true
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()

		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Recovered from panic in uploader goroutine: %v", r)
			}
		}()

		for {
			select {
			case archivePath := <-u.notifyChan:
				u.upload(s3Client, archivePath)
			case <-u.quit:
				log.Info("Archive uploader received shutdown signal")
				return
			}
		}
	}()

	return nil
}

func (u *Uploader) Shutdown() error {
	if !u.started {
		return nil
	}
	log.Info("Archive uploader shutting down")
	u.quit <- true
	u.wg.Wait()
	return nil
}

// upload puts one already-compressed archive into the bucket, keyed by date so
// rotations on different days never collide even though archive file names
// recycle.
func (u *Uploader) upload(s3Client *minio.Client, archivePath string) {
	file, err := os.Open(archivePath)
	if err != nil {
		// The archive may already have been shifted by a later rotation.
		log.Errorf("Failed to open archive for upload: %v", err)
		u.services.Stats.UploadErrors.Add(1)
		return
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		log.Errorf("Failed to stat archive: %v", err)
		u.services.Stats.UploadErrors.Add(1)
		return
	}

	objectKey := fmt.Sprintf("%s/%s/%d_%s", u.config.S3.Prefix,
		time.Now().Format("2006-01-02"), time.Now().UnixNano(), filepath.Base(archivePath))

	_, err = s3Client.PutObject(context.Background(), u.config.S3.BucketName, objectKey,
		file, fileInfo.Size(), minio.PutObjectOptions{ContentType: "application/gzip"})
	if err != nil {
		log.Errorf("Failed to upload archive to S3: %v", err)
		u.services.Stats.UploadErrors.Add(1)
		if u.config.SOCAlertClient != nil {
			u.config.SOCAlertClient.SendArchiveFailureAlert(archivePath, err)
		}
		return
	}

	u.services.Stats.ArchivesUploaded.Add(1)
	log.Infof("Uploaded archive %s to S3 successfully", objectKey)
}
