package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/offs-project/offs/internal/chunker"
	"github.com/offs-project/offs/internal/client_service"
	"github.com/offs-project/offs/internal/communication"
	"github.com/offs-project/offs/internal/config"
	"github.com/offs-project/offs/internal/log_service"
	"github.com/offs-project/offs/internal/operation"
	"github.com/offs-project/offs/internal/store"
)

func operationSetSize(size uint64) operation.SetAttributesOperation {
	return operation.SetAttributesOperation{Size: &size}
}

// offs-mcp exposes an OFFS tree as MCP tools, backed by an ephemeral
// client cache, so agents can browse and edit files on the server.

func buildFilesystem(cfg *config.ClientConfig, ls log_service.LogService) (*client_service.Filesystem, func(), error) {
	cacheDir, err := os.MkdirTemp("", "offs-mcp-")
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(filepath.Join(cacheDir, "cache.db"), ls)
	if err != nil {
		os.RemoveAll(cacheDir)
		return nil, nil, err
	}

	comm := communication.NewGRPCCommunicator("", ls)
	if err := comm.Start(nil); err != nil {
		st.Close()
		os.RemoveAll(cacheDir)
		return nil, nil, err
	}

	remote := client_service.NewRemoteClient(comm, cfg.ServerAddress, uuid.New().String())
	fs, err := client_service.NewFilesystem(st, remote, chunker.NewDefaultChunker(),
		client_service.PolicyRecreateLocal, "", ls)
	if err != nil {
		comm.Stop()
		st.Close()
		os.RemoveAll(cacheDir)
		return nil, nil, err
	}
	fs.Start()

	cleanup := func() {
		fs.Stop()
		comm.Stop()
		st.Close()
		os.RemoveAll(cacheDir)
	}

	return fs, cleanup, nil
}

func addTools(s *server.MCPServer, fs *client_service.Filesystem) {
	listTool := mcp.NewTool("list_directory",
		mcp.WithDescription("List the entries of a directory on the OFFS server"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the directory"),
		),
	)
	s.AddTool(listTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		dir, err := fs.ResolvePath(ctx, path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		entries, err := fs.ReadDir(ctx, dir.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result := fmt.Sprintf("%d entries:\n", len(entries))
		for _, entry := range entries {
			kind := "file"
			if entry.Stat.FileType == store.TypeDirectory {
				kind = "dir"
			}
			result += fmt.Sprintf("- %s (%s, %d bytes)\n", entry.Name, kind, entry.Stat.Size)
		}

		return mcp.NewToolResultText(result), nil
	})

	readTool := mcp.NewTool("read_file",
		mcp.WithDescription("Read a file from the OFFS server"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the file"),
		),
	)
	s.AddTool(readTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		entity, err := fs.ResolvePath(ctx, path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		fh, err := fs.Open(ctx, entity.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer fs.Release(ctx, fh)

		data, err := fs.Read(ctx, fh, 0, int64(entity.Stat.Size))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	})

	writeTool := mcp.NewTool("write_file",
		mcp.WithDescription("Create or overwrite a file on the OFFS server"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the file"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("New file content"),
		),
	)
	s.AddTool(writeTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		dir, name := filepath.Split(path)
		parent, err := fs.ResolvePath(ctx, dir)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		entity, err := fs.Lookup(ctx, parent.ID, name)
		if err != nil {
			entity, err = fs.Create(ctx, parent.ID, name, store.TypeRegularFile, 0o644, 0)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		} else {
			if _, err := fs.SetAttributes(ctx, entity.ID, operationSetSize(0)); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}

		fh, err := fs.Open(ctx, entity.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		defer fs.Release(ctx, fh)

		if err := fs.Write(ctx, fh, 0, []byte(content)); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := fs.Flush(ctx, fh); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes to %s", len(content), path)), nil
	})

	statTool := mcp.NewTool("stat",
		mcp.WithDescription("Show the attributes of a file or directory"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path"),
		),
	)
	s.AddTool(statTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := request.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		entity, err := fs.ResolvePath(ctx, path)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result := fmt.Sprintf("id: %s\nname: %s\nsize: %d\nmode: %o\nversions: dirent=%d content=%d\n",
			entity.ID, entity.Name, entity.Stat.Size, entity.Stat.Mode,
			entity.DirentVersion, entity.ContentVersion)

		return mcp.NewToolResultText(result), nil
	})
}

func main() {
	configPath := os.Getenv("OFFS_MCP_CONFIG")
	if configPath == "" {
		home, _ := os.UserHomeDir()
		configPath = filepath.Join(home, ".config", "offs", "mcp.yaml")
	}

	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "offs-mcp: %v\n", err)
		os.Exit(1)
	}

	ls := log_service.NewConsoleLogService("offs-mcp", log_service.ErrorLevel)

	fs, cleanup, err := buildFilesystem(cfg, ls)
	if err != nil {
		fmt.Fprintf(os.Stderr, "offs-mcp: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	s := server.NewMCPServer(
		"offs",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, fs)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "offs-mcp: server error: %v\n", err)
		os.Exit(1)
	}
}
