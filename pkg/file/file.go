package file

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileOperations defines methods for reading from and writing to files.
type FileOperations interface {
	IsFileExists(filePath string) (bool, error)
	Open(filePath string) (io.ReadCloser, error)
	ReadFileRaw(filePath string) ([]byte, error)
	ReadYamlFile(filePath string, v any) error
	WriteAtomic(filePath string, write func(w io.Writer) error) error
}

// FileService implements the FileOperations interface using standard file operations.
type FileService struct{}

// NewFileService creates a new instance of FileService.
func NewFileService() *FileService {
	return &FileService{}
}

// IsFileExists checks if the file exists and returns boolean and error
func (fs *FileService) IsFileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return false, nil
	}

	// checking err == nil because of permission related error
	return err == nil, err
}

// Open opens the file at filePath for reading.
func (fs *FileService) Open(filePath string) (io.ReadCloser, error) {
	return os.Open(filePath)
}

// ReadFileRaw reads the contents of the file at filePath and returns it as a byte array.
func (fs *FileService) ReadFileRaw(filePath string) ([]byte, error) {
	return os.ReadFile(filePath)
}

// ReadYamlFile reads and unmarshals YAML data from the given file.
func (fs *FileService) ReadYamlFile(filePath string, v any) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	return decoder.Decode(v)
}

// WriteAtomic streams write's output into a temporary file next to filePath
// and renames it into place once write succeeds.
func (fs *FileService) WriteAtomic(filePath string, write func(w io.Writer) error) error {
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}
	tempName := tempFile.Name()

	bw := bufio.NewWriter(tempFile)
	if err := write(bw); err != nil {
		tempFile.Close()
		os.Remove(tempName) // Clean up partial file
		return err
	}
	if err := bw.Flush(); err != nil {
		tempFile.Close()
		os.Remove(tempName)
		return fmt.Errorf("error flushing %s: %w", tempName, err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("error closing %s: %w", tempName, err)
	}
	if err := os.Chmod(tempName, 0644); err != nil {
		os.Remove(tempName)
		return err
	}

	return os.Rename(tempName, filePath) // Atomic file update
}
